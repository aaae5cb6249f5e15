package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
	"example.com/testnet/services/points/internal/search"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

// ErrConflictingExternalKeys is returned when a create request carries more
// than one external identity.
var ErrConflictingExternalKeys = errors.New("at most one of block, deposit and url may be set")

// EventServiceConfig controls event eligibility.
type EventServiceConfig struct {
	// CheckEventOccurredAt rejects events occurring outside the phase
	// window. Rejected events are not an error; they are simply not
	// recorded.
	CheckEventOccurredAt  bool
	PhaseStart            time.Time
	PhaseEnd              time.Time
	AllowBlockMinedPoints bool
	PhaseMaxBlockSequence int64
}

// EventService owns the event ledger: idempotent upserts keyed on external
// identity, retraction, listing and metrics. Every write schedules an
// asynchronous aggregate recompute for the touched (user, category).
type EventService struct {
	db       *gorm.DB
	cfg      EventServiceConfig
	events   *repository.EventRepository
	blocks   *repository.BlockRepository
	deposits *repository.DepositRepository
	tasks    messaging.TaskClient
	elastic  *search.ElasticClient
}

// NewEventService creates a new event service
func NewEventService(db *gorm.DB, cfg EventServiceConfig, tasks messaging.TaskClient, elastic *search.ElasticClient) *EventService {
	return &EventService{
		db:       db,
		cfg:      cfg,
		events:   repository.NewEventRepository(db),
		blocks:   repository.NewBlockRepository(db),
		deposits: repository.NewDepositRepository(db),
		tasks:    tasks,
		elastic:  elastic,
	}
}

// CreateEventOptions describes one sighting of an external event.
type CreateEventOptions struct {
	Type       models.EventType
	UserID     uint
	Points     *int64
	OccurredAt *time.Time
	BlockID    *uint
	DepositID  *uint
	URL        *string
}

// Create upserts an event keyed on its external identity. If an active
// event already exists for the key, only its point value is updated, and
// only when it changed. The existence check and the write share one
// transaction; a racing insert trips the partial unique index instead of
// creating a duplicate. Returns (nil, nil) when the event falls outside
// the eligibility window.
func (s *EventService) Create(ctx context.Context, opts CreateEventOptions) (*models.EventWithMetadata, error) {
	keys := 0
	for _, set := range []bool{opts.BlockID != nil, opts.DepositID != nil, opts.URL != nil} {
		if set {
			keys++
		}
	}
	if keys > 1 {
		return nil, ErrConflictingExternalKeys
	}

	occurredAt := time.Now().UTC()
	if opts.OccurredAt != nil {
		occurredAt = opts.OccurredAt.UTC()
	}

	if s.cfg.CheckEventOccurredAt &&
		(occurredAt.Before(s.cfg.PhaseStart) || occurredAt.After(s.cfg.PhaseEnd)) {
		return nil, nil
	}

	points := models.PointsPerCategory[opts.Type]
	if opts.Points != nil {
		points = *opts.Points
	}

	var event *models.Event
	var metadata models.EventMetadata

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		var existing *models.Event
		var err error
		switch {
		case opts.URL != nil:
			metadata.URL = *opts.URL
			existing, err = events.FindActiveByURL(ctx, *opts.URL)
		case opts.BlockID != nil:
			block, berr := s.blocks.FindByID(ctx, *opts.BlockID)
			if berr != nil {
				return errors.Wrapf(berr, "event references unresolvable block %d", *opts.BlockID)
			}
			metadata.Block = models.SummarizeBlock(block)
			existing, err = events.FindActiveByBlockID(ctx, *opts.BlockID)
		case opts.DepositID != nil:
			deposit, derr := s.deposits.FindByID(ctx, *opts.DepositID)
			if derr != nil {
				return errors.Wrapf(derr, "event references unresolvable deposit %d", *opts.DepositID)
			}
			metadata.Deposit = &models.DepositSummary{
				TransactionHash: deposit.TransactionHash,
				BlockHash:       deposit.BlockHash,
			}
			existing, err = events.FindActiveByDepositID(ctx, *opts.DepositID)
		}
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.Points != points {
				if err := events.UpdatePoints(ctx, existing.ID, points); err != nil {
					return err
				}
				existing.Points = points
			}
			event = existing
			return nil
		}

		event = &models.Event{
			Type:       opts.Type,
			UserID:     opts.UserID,
			Points:     points,
			OccurredAt: occurredAt,
			Status:     models.EventStatusActive,
			BlockID:    opts.BlockID,
			DepositID:  opts.DepositID,
			URL:        opts.URL,
		}
		return events.Create(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.scheduleRecompute(ctx, opts.UserID, opts.Type)
	s.indexEvent(ctx, event)

	return &models.EventWithMetadata{Event: *event, Metadata: metadata}, nil
}

// Retract soft-deletes an event and zeroes its points. Retracting an
// already-retracted event is a no-op returning the same state.
func (s *EventService) Retract(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.Status == models.EventStatusRetracted {
		return event, nil
	}

	now := time.Now().UTC()
	if err := s.events.Retract(ctx, event.ID, now); err != nil {
		return nil, err
	}

	retracted := *event
	retracted.Status = models.EventStatusRetracted
	retracted.RetractedAt = &now
	retracted.Points = 0

	s.scheduleRecompute(ctx, event.UserID, event.Type)
	s.indexEvent(ctx, &retracted)

	return &retracted, nil
}

// Get returns an event by id.
func (s *EventService) Get(ctx context.Context, id uint) (*models.Event, error) {
	return s.events.FindByID(ctx, id)
}

// ListEventsOptions is a cursor-paginated listing request. Before and After
// are event ids from a previous page; at most one may be set.
type ListEventsOptions struct {
	UserID uint
	Before *uint
	After  *uint
	Limit  int
}

// ListEventsResult is one page of a user's active events.
type ListEventsResult struct {
	Events      []models.EventWithMetadata `json:"data"`
	HasNext     bool                       `json:"has_next"`
	HasPrevious bool                       `json:"has_previous"`
}

// List returns a page of a user's active events, newest first, with
// boundary flags computed by probing one row beyond each edge.
func (s *EventService) List(ctx context.Context, opts ListEventsOptions) (*ListEventsResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var cursor *models.Event
	backwards := false
	var err error
	if opts.Before != nil {
		cursor, err = s.events.FindByID(ctx, *opts.Before)
		backwards = true
	} else if opts.After != nil {
		cursor, err = s.events.FindByID(ctx, *opts.After)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.events.ListForUser(ctx, opts.UserID, cursor, backwards, limit)
	if err != nil {
		return nil, err
	}

	result := &ListEventsResult{Events: []models.EventWithMetadata{}}
	if len(rows) == 0 {
		return result, nil
	}

	next, err := s.events.ListForUser(ctx, opts.UserID, &rows[len(rows)-1], false, 1)
	if err != nil {
		return nil, err
	}
	previous, err := s.events.ListForUser(ctx, opts.UserID, &rows[0], true, 1)
	if err != nil {
		return nil, err
	}
	result.HasNext = len(next) > 0
	result.HasPrevious = len(previous) > 0

	result.Events, err = s.enrichEvents(ctx, rows)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// enrichEvents attaches external-identity metadata to each record. An event
// whose block or deposit no longer resolves indicates a broken foreign-key
// invariant and fails the whole request.
func (s *EventService) enrichEvents(ctx context.Context, rows []models.Event) ([]models.EventWithMetadata, error) {
	enriched := make([]models.EventWithMetadata, 0, len(rows))
	for _, row := range rows {
		var metadata models.EventMetadata
		switch {
		case row.BlockID != nil:
			block, err := s.blocks.FindByID(ctx, *row.BlockID)
			if err != nil {
				return nil, errors.Wrapf(err, "event %d references missing block", row.ID)
			}
			metadata.Block = models.SummarizeBlock(block)
		case row.DepositID != nil:
			deposit, err := s.deposits.FindByID(ctx, *row.DepositID)
			if err != nil {
				return nil, errors.Wrapf(err, "event %d references missing deposit", row.ID)
			}
			metadata.Deposit = &models.DepositSummary{
				TransactionHash: deposit.TransactionHash,
				BlockHash:       deposit.BlockHash,
			}
		case row.URL != nil:
			metadata.URL = *row.URL
		}
		enriched = append(enriched, models.EventWithMetadata{Event: row, Metadata: metadata})
	}
	return enriched, nil
}

// EventTypeMetrics is the per-category count and point-sum shape.
type EventTypeMetrics struct {
	Count  int64 `json:"count"`
	Points int64 `json:"points"`
}

// LifetimeMetrics returns per-category metrics over all of a user's active
// events, straight from the ledger.
func (s *EventService) LifetimeMetrics(ctx context.Context, userID uint) (map[models.EventType]EventTypeMetrics, error) {
	metrics := make(map[models.EventType]EventTypeMetrics, len(models.EventTypes()))
	for _, t := range models.EventTypes() {
		count, points, err := s.events.CountAndSum(ctx, userID, t, nil, nil)
		if err != nil {
			return nil, err
		}
		metrics[t] = EventTypeMetrics{Count: count, Points: points}
	}
	return metrics, nil
}

// MetricsForRange returns per-category metrics and the overall point-sum
// for a user's active events in the half-open interval [start, end).
func (s *EventService) MetricsForRange(ctx context.Context, userID uint, start, end time.Time) (map[models.EventType]EventTypeMetrics, int64, error) {
	metrics := make(map[models.EventType]EventTypeMetrics, len(models.EventTypes()))
	for _, t := range models.EventTypes() {
		count, points, err := s.events.CountAndSum(ctx, userID, t, &start, &end)
		if err != nil {
			return nil, 0, err
		}
		metrics[t] = EventTypeMetrics{Count: count, Points: points}
	}
	total, err := s.events.SumPointsInRange(ctx, userID, &start, &end)
	if err != nil {
		return nil, 0, err
	}
	return metrics, total, nil
}

// UpsertBlockMined awards mining points for a block. Blocks past the end of
// the phase sequence cap earn nothing.
func (s *EventService) UpsertBlockMined(ctx context.Context, block *models.Block, user *models.User) (*models.EventWithMetadata, error) {
	if !s.cfg.AllowBlockMinedPoints || block.Sequence > s.cfg.PhaseMaxBlockSequence {
		return nil, nil
	}
	return s.Create(ctx, CreateEventOptions{
		Type:       models.EventTypeBlockMined,
		UserID:     user.ID,
		BlockID:    &block.ID,
		OccurredAt: &block.Timestamp,
	})
}

// DeleteBlockMined retracts the mining event for a block, if one exists.
// Used when a block is forked off the main chain.
func (s *EventService) DeleteBlockMined(ctx context.Context, block *models.Block) (*models.Event, error) {
	event, err := s.events.FindActiveByBlockID(ctx, block.ID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}
	return s.Retract(ctx, event)
}

// CreateNodeUptimeEvent awards uptime points for a reporting interval.
func (s *EventService) CreateNodeUptimeEvent(ctx context.Context, user *models.User, occurredAt time.Time) (*models.EventWithMetadata, error) {
	return s.Create(ctx, CreateEventOptions{
		Type:       models.EventTypeNodeUptime,
		UserID:     user.ID,
		OccurredAt: &occurredAt,
	})
}

// scheduleRecompute enqueues the aggregate recompute task. Enqueue failures
// are not fatal: the reconciliation sweep picks up stale aggregates.
func (s *EventService) scheduleRecompute(ctx context.Context, userID uint, t models.EventType) {
	if err := messaging.EnqueueUpdatePoints(ctx, s.tasks, userID, t); err != nil {
		log.Warn().
			Err(err).
			Uint("user_id", userID).
			Str("type", string(t)).
			Msg("Failed to enqueue points recompute, sweep will reconcile")
	}
}

// indexEvent pushes the event to Elasticsearch, best effort.
func (s *EventService) indexEvent(ctx context.Context, event *models.Event) {
	if s.elastic == nil {
		return
	}
	if err := s.elastic.IndexEvent(ctx, event); err != nil {
		log.Warn().Err(err).Uint("event_id", event.ID).Msg("Failed to index event")
	}
}
