package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/models"
)

// DepositRepository provides access to deposit records.
type DepositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// FindByID gets a deposit by id.
func (r *DepositRepository) FindByID(ctx context.Context, id uint) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.WithContext(ctx).First(&deposit, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "deposit %d", id)
		}
		return nil, errors.Wrap(err, "failed to get deposit by id")
	}
	return &deposit, nil
}

// Create inserts a deposit.
func (r *DepositRepository) Create(ctx context.Context, deposit *models.Deposit) error {
	err := r.db.WithContext(ctx).Create(deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrap(ErrDuplicateKey, "deposit transaction hash already exists")
		}
		return errors.Wrap(err, "failed to create deposit")
	}
	return nil
}
