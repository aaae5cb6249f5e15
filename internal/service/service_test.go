package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/testnet/services/points/config"
	"example.com/testnet/services/points/internal/cache"
	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
)

var (
	phaseStart = time.Date(2021, 12, 1, 20, 0, 0, 0, time.UTC)
	phaseEnd   = time.Date(2022, 3, 12, 20, 0, 0, 0, time.UTC)
)

// inWindow returns a timestamp inside the eligibility window, offset by the
// given number of hours so tests get distinct occurred_at values.
func inWindow(hours int) time.Time {
	return time.Date(2022, 1, 15, 12, 0, 0, 0, time.UTC).Add(time.Duration(hours) * time.Hour)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// An in-memory sqlite database exists per connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.SetupModels(db))
	return db
}

// recordingTaskClient captures enqueued tasks instead of sending them.
type recordingTaskClient struct {
	mu    sync.Mutex
	tasks []messaging.UpdatePointsTask
	keys  []string
}

func (c *recordingTaskClient) EnqueueTask(ctx context.Context, task string, payload interface{}, dedupeKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update, ok := payload.(messaging.UpdatePointsTask); ok {
		c.tasks = append(c.tasks, update)
	}
	c.keys = append(c.keys, dedupeKey)
	return nil
}

func (c *recordingTaskClient) Close() error { return nil }

func (c *recordingTaskClient) recorded() []messaging.UpdatePointsTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messaging.UpdatePointsTask(nil), c.tasks...)
}

func newDisabledCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	redisCache, err := cache.NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	return redisCache
}

func newTestEventService(t *testing.T, db *gorm.DB, tasks messaging.TaskClient) *EventService {
	t.Helper()
	return NewEventService(db, EventServiceConfig{
		CheckEventOccurredAt:  true,
		PhaseStart:            phaseStart,
		PhaseEnd:              phaseEnd,
		AllowBlockMinedPoints: true,
		PhaseMaxBlockSequence: 150000,
	}, tasks, nil)
}

func createTestUser(t *testing.T, db *gorm.DB, graffiti string) *models.User {
	t.Helper()
	user := &models.User{Graffiti: graffiti, Email: graffiti + "@example.com"}
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), user))
	return user
}

func createTestBlock(t *testing.T, db *gorm.DB, hash string, sequence int64) *models.Block {
	t.Helper()
	block := &models.Block{
		Hash:              hash,
		Sequence:          sequence,
		Difficulty:        1000,
		TransactionsCount: 1,
		MainChain:         true,
		Timestamp:         inWindow(0),
	}
	require.NoError(t, repository.NewBlockRepository(db).Create(context.Background(), block))
	return block
}

func createTestDeposit(t *testing.T, db *gorm.DB, txHash string) *models.Deposit {
	t.Helper()
	deposit := &models.Deposit{
		TransactionHash: txHash,
		BlockHash:       "block-" + txHash,
		Amount:          100,
	}
	require.NoError(t, repository.NewDepositRepository(db).Create(context.Background(), deposit))
	return deposit
}

func strPtr(s string) *string  { return &s }
func int64Ptr(v int64) *int64  { return &v }
func timePtr(v time.Time) *time.Time { return &v }
