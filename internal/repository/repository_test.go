package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/testnet/services/points/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.SetupModels(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, graffiti string) *models.User {
	t.Helper()
	user := &models.User{Graffiti: graffiti, Email: graffiti + "@example.com"}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func TestEventCreateDuplicateActiveKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	user := seedUser(t, db, "dupe")
	url := "https://example.com/item"

	first := &models.Event{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		Points:     100,
		OccurredAt: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:     models.EventStatusActive,
		URL:        &url,
	}
	require.NoError(t, repo.Create(context.Background(), first))

	// A second active event for the same URL violates the partial index.
	second := &models.Event{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		Points:     100,
		OccurredAt: time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC),
		Status:     models.EventStatusActive,
		URL:        &url,
	}
	err := repo.Create(context.Background(), second)
	require.ErrorIs(t, err, ErrDuplicateKey)

	// Once the first is retracted, the key is free again.
	require.NoError(t, repo.Retract(context.Background(), first.ID, time.Now().UTC()))
	require.NoError(t, repo.Create(context.Background(), second))
}

func TestListForUserKeysetTieBreak(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	user := seedUser(t, db, "tied")

	// Three events sharing one occurred_at; id is the tie-break.
	at := time.Date(2022, 1, 5, 0, 0, 0, 0, time.UTC)
	ids := make([]uint, 0, 3)
	for i := 0; i < 3; i++ {
		event := &models.Event{
			Type:       models.EventTypeNodeUptime,
			UserID:     user.ID,
			Points:     10,
			OccurredAt: at,
			Status:     models.EventStatusActive,
		}
		require.NoError(t, repo.Create(context.Background(), event))
		ids = append(ids, event.ID)
	}

	page, err := repo.ListForUser(context.Background(), user.ID, nil, false, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)

	// Forward from the page's last row continues past the tie.
	next, err := repo.ListForUser(context.Background(), user.ID, &page[1], false, 2)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, ids[0], next[0].ID)

	// Backwards from that row returns the preceding rows in display order.
	previous, err := repo.ListForUser(context.Background(), user.ID, &next[0], true, 2)
	require.NoError(t, err)
	require.Len(t, previous, 2)
	require.Equal(t, ids[2], previous[0].ID)
	require.Equal(t, ids[1], previous[1].ID)
}

func TestUserCreateProvisionsAggregateRow(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "provisioned")

	row, err := NewUserPointsRepository(db).FindByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, row.TotalPoints)
}

func TestUserCreateDuplicateGraffiti(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "taken")

	err := NewUserRepository(db).Create(context.Background(), &models.User{
		Graffiti: "taken",
		Email:    "other@example.com",
	})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestAggregateActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventRepository(db)
	user := seedUser(t, db, "aggregated")

	older := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{older, newer} {
		require.NoError(t, repo.Create(context.Background(), &models.Event{
			Type:       models.EventTypeNodeUptime,
			UserID:     user.ID,
			Points:     10,
			OccurredAt: at,
			Status:     models.EventStatusActive,
		}))
	}

	points, latest, err := repo.AggregateActive(context.Background(), user.ID, models.EventTypeNodeUptime)
	require.NoError(t, err)
	require.EqualValues(t, 20, points)
	require.NotNil(t, latest)
	require.True(t, newer.Equal(*latest))

	// No events of a type yields zero and no timestamp.
	points, latest, err = repo.AggregateActive(context.Background(), user.ID, models.EventTypeBugCaught)
	require.NoError(t, err)
	require.EqualValues(t, 0, points)
	require.Nil(t, latest)
}
