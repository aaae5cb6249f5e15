package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/cache"
	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
)

// PointsService recomputes the denormalized user_points aggregates from the
// event ledger. Recomputation is idempotent: it never applies deltas, so
// re-running a task - in any order relative to other tasks for the same
// key - always converges on the ledger's current state.
type PointsService struct {
	db         *gorm.DB
	events     *repository.EventRepository
	userPoints *repository.UserPointsRepository
	tasks      messaging.TaskClient
	cache      *cache.RedisCache
	sweepBatch int
}

// NewPointsService creates a new points service
func NewPointsService(db *gorm.DB, tasks messaging.TaskClient, redisCache *cache.RedisCache, sweepBatch int) *PointsService {
	return &PointsService{
		db:         db,
		events:     repository.NewEventRepository(db),
		userPoints: repository.NewUserPointsRepository(db),
		tasks:      tasks,
		cache:      redisCache,
		sweepBatch: sweepBatch,
	}
}

// Recompute rebuilds one (user, category) aggregate plus the user's grand
// total inside a single transaction. All-or-nothing: a failure leaves the
// previous aggregate intact and the task is redelivered by the queue.
func (s *PointsService) Recompute(ctx context.Context, userID uint, t models.EventType) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		points, latestOccurredAt, err := events.AggregateActive(ctx, userID, t)
		if err != nil {
			return err
		}

		total, err := events.TotalActivePoints(ctx, userID)
		if err != nil {
			return err
		}

		userPoints := s.userPoints.WithTx(tx)
		aggregate, err := userPoints.FindByUser(ctx, userID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			aggregate = &models.UserPoints{UserID: userID}
		}

		aggregate.SetCategory(t, points, latestOccurredAt)
		aggregate.TotalPoints = total

		return userPoints.Upsert(ctx, aggregate)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to recompute points for user %d type %s", userID, t)
	}

	if err := s.cache.DeleteByPrefix(ctx, cache.RankCachePrefix(userID)); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("Failed to invalidate cached ranks")
	}

	log.Debug().
		Uint("user_id", userID).
		Str("type", string(t)).
		Msg("Recomputed user points aggregate")
	return nil
}

// SweepStaleAggregates re-enqueues recompute tasks for (user, category)
// pairs whose ledger is newer than their aggregate row. This is a fallback
// for enqueue failures and lost messages; the dedupe key keeps it from
// piling up duplicate work.
func (s *PointsService) SweepStaleAggregates(ctx context.Context) error {
	pairs, err := s.userPoints.FindStalePairs(ctx, s.sweepBatch)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	log.Info().Int("count", len(pairs)).Msg("Sweeping stale aggregates")

	for _, pair := range pairs {
		if err := messaging.EnqueueUpdatePoints(ctx, s.tasks, pair.UserID, pair.Type); err != nil {
			log.Error().
				Err(err).
				Uint("user_id", pair.UserID).
				Str("type", string(pair.Type)).
				Msg("Failed to enqueue recompute during sweep")
		}
	}
	return nil
}
