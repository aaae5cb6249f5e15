package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/models"
)

// BlockRepository provides access to block records.
type BlockRepository struct {
	db *gorm.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// FindByID gets a block by id.
func (r *BlockRepository) FindByID(ctx context.Context, id uint) (*models.Block, error) {
	var block models.Block
	err := r.db.WithContext(ctx).First(&block, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "block %d", id)
		}
		return nil, errors.Wrap(err, "failed to get block by id")
	}
	return &block, nil
}

// Create inserts a block.
func (r *BlockRepository) Create(ctx context.Context, block *models.Block) error {
	err := r.db.WithContext(ctx).Create(block).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrap(ErrDuplicateKey, "block hash already exists")
		}
		return errors.Wrap(err, "failed to create block")
	}
	return nil
}
