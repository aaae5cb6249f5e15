package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/testnet/services/points/internal/models"
)

// UserPointsRepository provides access to the denormalized points
// aggregates. Rows are written exclusively by the recomputation worker.
type UserPointsRepository struct {
	db *gorm.DB
}

// NewUserPointsRepository creates a new user points repository
func NewUserPointsRepository(db *gorm.DB) *UserPointsRepository {
	return &UserPointsRepository{db: db}
}

// WithTx returns a copy of the repository bound to a running transaction.
func (r *UserPointsRepository) WithTx(tx *gorm.DB) *UserPointsRepository {
	return &UserPointsRepository{db: tx}
}

// FindByUser gets a user's aggregate row.
func (r *UserPointsRepository) FindByUser(ctx context.Context, userID uint) (*models.UserPoints, error) {
	var points models.UserPoints
	err := r.db.WithContext(ctx).First(&points, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "user_points for user %d", userID)
		}
		return nil, errors.Wrap(err, "failed to get user points")
	}
	return &points, nil
}

// Upsert writes a fully recomputed aggregate row.
func (r *UserPointsRepository) Upsert(ctx context.Context, points *models.UserPoints) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(points).Error
	return errors.Wrap(err, "failed to upsert user points")
}

// ListAll returns every aggregate row, ordered by user id.
func (r *UserPointsRepository) ListAll(ctx context.Context) ([]models.UserPoints, error) {
	var rows []models.UserPoints
	err := r.db.WithContext(ctx).Order("user_id ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user points")
	}
	return rows, nil
}

// StalePair identifies a (user, category) whose aggregate may lag the
// ledger.
type StalePair struct {
	UserID uint             `gorm:"column:user_id"`
	Type   models.EventType `gorm:"column:type"`
}

// FindStalePairs returns (user, category) pairs whose newest ledger write is
// more recent than the aggregate row. Used by the fallback sweep to catch
// tasks lost between enqueue and execution.
func (r *UserPointsRepository) FindStalePairs(ctx context.Context, limit int) ([]StalePair, error) {
	var pairs []StalePair
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT e.user_id AS user_id, e.type AS type
		FROM events e
		LEFT JOIN user_points up ON up.user_id = e.user_id
		WHERE up.user_id IS NULL OR e.updated_at > up.updated_at
		LIMIT ?`, limit).Scan(&pairs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale aggregate pairs")
	}
	return pairs, nil
}
