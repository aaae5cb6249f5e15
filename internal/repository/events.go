package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/models"
)

// EventRepository provides access to the event ledger.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// WithTx returns a copy of the repository bound to a running transaction.
func (r *EventRepository) WithTx(tx *gorm.DB) *EventRepository {
	return &EventRepository{db: tx}
}

// FindByID gets an event by id, retracted or not.
func (r *EventRepository) FindByID(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).First(&event, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "event %d", id)
		}
		return nil, errors.Wrap(err, "failed to get event by id")
	}
	return &event, nil
}

// FindActiveByBlockID returns the active event for a block, or nil.
func (r *EventRepository) FindActiveByBlockID(ctx context.Context, blockID uint) (*models.Event, error) {
	return r.findActive(ctx, "block_id = ?", blockID)
}

// FindActiveByDepositID returns the active event for a deposit, or nil.
func (r *EventRepository) FindActiveByDepositID(ctx context.Context, depositID uint) (*models.Event, error) {
	return r.findActive(ctx, "deposit_id = ?", depositID)
}

// FindActiveByURL returns the active event for a URL, or nil.
func (r *EventRepository) FindActiveByURL(ctx context.Context, url string) (*models.Event, error) {
	return r.findActive(ctx, "url = ?", url)
}

func (r *EventRepository) findActive(ctx context.Context, query string, arg interface{}) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Where(query, arg).
		Where("status = ?", models.EventStatusActive).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to look up active event")
	}
	return &event, nil
}

// Create inserts a new event. A racing insert for the same active external
// key trips the partial unique index and surfaces as ErrDuplicateKey.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrap(ErrDuplicateKey, "active event already exists for external key")
		}
		return errors.Wrap(err, "failed to create event")
	}
	return nil
}

// UpdatePoints overwrites an event's point value in place.
func (r *EventRepository) UpdatePoints(ctx context.Context, id uint, points int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Update("points", points).Error
	return errors.Wrap(err, "failed to update event points")
}

// Retract soft-deletes an event: points zeroed, status flipped, timestamp
// kept for audit. The row is never removed.
func (r *EventRepository) Retract(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.EventStatusRetracted,
			"retracted_at": at,
			"points":       0,
		}).Error
	return errors.Wrap(err, "failed to retract event")
}

// ListForUser returns a page of a user's active events ordered by
// occurred_at descending with id as tie-break. A nil cursor starts at the
// top. With backwards set, the rows preceding the cursor in display order
// are returned, still in display order.
func (r *EventRepository) ListForUser(ctx context.Context, userID uint, cursor *models.Event, backwards bool, limit int) ([]models.Event, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status = ?", models.EventStatusActive)

	var rows []models.Event
	if backwards {
		if cursor != nil {
			q = q.Where("(occurred_at > ?) OR (occurred_at = ? AND id > ?)",
				cursor.OccurredAt, cursor.OccurredAt, cursor.ID)
		}
		err := q.Order("occurred_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
		if err != nil {
			return nil, errors.Wrap(err, "failed to list events")
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
		return rows, nil
	}

	if cursor != nil {
		q = q.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
			cursor.OccurredAt, cursor.OccurredAt, cursor.ID)
	}
	err := q.Order("occurred_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return rows, nil
}

// AggregateActive returns sum(points) and max(occurred_at) over a user's
// active events of one type. The latest timestamp is nil when the user has
// no active events of the type.
func (r *EventRepository) AggregateActive(ctx context.Context, userID uint, t models.EventType) (int64, *time.Time, error) {
	points, err := r.sumPoints(ctx, userID, &t, nil, nil)
	if err != nil {
		return 0, nil, err
	}

	var latest models.Event
	err = r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND status = ?", userID, t, models.EventStatusActive).
		Order("occurred_at DESC").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return points, nil, nil
		}
		return 0, nil, errors.Wrap(err, "failed to find latest event")
	}
	occurredAt := latest.OccurredAt
	return points, &occurredAt, nil
}

// TotalActivePoints returns sum(points) over all of a user's active events.
func (r *EventRepository) TotalActivePoints(ctx context.Context, userID uint) (int64, error) {
	return r.sumPoints(ctx, userID, nil, nil, nil)
}

// CountAndSum returns count and sum(points) of a user's active events of one
// type within the half-open interval [start, end). Nil bounds are unbounded.
func (r *EventRepository) CountAndSum(ctx context.Context, userID uint, t models.EventType, start, end *time.Time) (int64, int64, error) {
	q := r.activeQuery(ctx, userID, &t, start, end)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, 0, errors.Wrap(err, "failed to count events")
	}
	points, err := r.sumPoints(ctx, userID, &t, start, end)
	if err != nil {
		return 0, 0, err
	}
	return count, points, nil
}

// SumPointsInRange returns sum(points) of all of a user's active events in
// the half-open interval [start, end).
func (r *EventRepository) SumPointsInRange(ctx context.Context, userID uint, start, end *time.Time) (int64, error) {
	return r.sumPoints(ctx, userID, nil, start, end)
}

func (r *EventRepository) activeQuery(ctx context.Context, userID uint, t *models.EventType, start, end *time.Time) *gorm.DB {
	q := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("user_id = ?", userID).
		Where("status = ?", models.EventStatusActive)
	if t != nil {
		q = q.Where("type = ?", *t)
	}
	if start != nil {
		q = q.Where("occurred_at >= ?", *start)
	}
	if end != nil {
		q = q.Where("occurred_at < ?", *end)
	}
	return q
}

func (r *EventRepository) sumPoints(ctx context.Context, userID uint, t *models.EventType, start, end *time.Time) (int64, error) {
	var sum sql.NullInt64
	row := r.activeQuery(ctx, userID, t, start, end).Select("SUM(points)").Row()
	if err := row.Scan(&sum); err != nil {
		return 0, errors.Wrap(err, "failed to sum event points")
	}
	if !sum.Valid {
		return 0, nil
	}
	return sum.Int64, nil
}
