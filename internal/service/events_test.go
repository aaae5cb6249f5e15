package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
)

func TestCreateEventAppliesCatalogPoints(t *testing.T) {
	db := newTestDB(t)
	tasks := &recordingTaskClient{}
	svc := newTestEventService(t, db, tasks)
	user := createTestUser(t, db, "miner")

	event, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeCommunityContribution,
		UserID:     user.ID,
		URL:        strPtr("https://forum.example.com/t/1"),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)
	require.NotNil(t, event)
	require.EqualValues(t, 1000, event.Points)
	require.Equal(t, models.EventStatusActive, event.Status)
	require.Equal(t, "https://forum.example.com/t/1", event.Metadata.URL)

	recorded := tasks.recorded()
	require.Len(t, recorded, 1)
	require.Equal(t, user.ID, recorded[0].UserID)
	require.Equal(t, models.EventTypeCommunityContribution, recorded[0].Type)
}

func TestCreateEventIdempotentOnURL(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "poster")
	url := "https://github.com/example/repo/pull/7"

	first, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypePullRequestMerged,
		UserID:     user.ID,
		URL:        strPtr(url),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)

	// Same key again: no new row.
	second, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypePullRequestMerged,
		UserID:     user.ID,
		URL:        strPtr(url),
		OccurredAt: timePtr(inWindow(1)),
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.EqualValues(t, 500, second.Points)

	var count int64
	require.NoError(t, db.Model(&models.Event{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCreateEventUpdatesPointsOnRepeat(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "bughunter")
	url := "https://bugs.example.com/42"

	first, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr(url),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)
	require.EqualValues(t, 100, first.Points)

	// Repeat with an overridden point value: the existing row is updated.
	second, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr(url),
		Points:     int64Ptr(250),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.EqualValues(t, 250, second.Points)

	stored, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.EqualValues(t, 250, stored.Points)
}

func TestCreateEventRejectsConflictingKeys(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "confused")
	block := createTestBlock(t, db, "hash-1", 10)

	_, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBlockMined,
		UserID:     user.ID,
		BlockID:    &block.ID,
		URL:        strPtr("https://example.com"),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.ErrorIs(t, err, ErrConflictingExternalKeys)
}

func TestCreateEventOutsideWindowNotRecorded(t *testing.T) {
	db := newTestDB(t)
	tasks := &recordingTaskClient{}
	svc := newTestEventService(t, db, tasks)
	user := createTestUser(t, db, "latecomer")

	event, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr("https://bugs.example.com/late"),
		OccurredAt: timePtr(phaseEnd.Add(time.Hour)),
	})
	require.NoError(t, err)
	require.Nil(t, event)
	require.Empty(t, tasks.recorded())

	var count int64
	require.NoError(t, db.Model(&models.Event{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestCreateEventResolvesBlockMetadata(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "miner")
	block := createTestBlock(t, db, "hash-meta", 42)

	event, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBlockMined,
		UserID:     user.ID,
		BlockID:    &block.ID,
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)
	require.NotNil(t, event.Metadata.Block)
	require.Equal(t, "hash-meta", event.Metadata.Block.Hash)
	require.EqualValues(t, 42, event.Metadata.Block.Sequence)
}

func TestCreateEventUnresolvableBlockFails(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "miner")
	missing := uint(9999)

	_, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBlockMined,
		UserID:     user.ID,
		BlockID:    &missing,
		OccurredAt: timePtr(inWindow(0)),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRetractIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	tasks := &recordingTaskClient{}
	svc := newTestEventService(t, db, tasks)
	user := createTestUser(t, db, "retractee")

	event, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeSocialMediaPromotion,
		UserID:     user.ID,
		URL:        strPtr("https://social.example.com/post/1"),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)

	retracted, err := svc.Retract(context.Background(), &event.Event)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusRetracted, retracted.Status)
	require.NotNil(t, retracted.RetractedAt)
	require.EqualValues(t, 0, retracted.Points)

	// Second retraction is a no-op, no new recompute scheduled.
	before := len(tasks.recorded())
	again, err := svc.Retract(context.Background(), retracted)
	require.NoError(t, err)
	require.Equal(t, retracted.RetractedAt, again.RetractedAt)
	require.Len(t, tasks.recorded(), before)
}

func TestRetractFreesExternalKey(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "resubmitter")
	url := "https://bugs.example.com/reopened"

	first, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr(url),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)

	_, err = svc.Retract(context.Background(), &first.Event)
	require.NoError(t, err)

	// The key is no longer held by an active event; a fresh row appears.
	second, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr(url),
		OccurredAt: timePtr(inWindow(2)),
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.EqualValues(t, 100, second.Points)
}

func TestListPagination(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "lister")

	ids := make([]uint, 0, 5)
	for i := 0; i < 5; i++ {
		event, err := svc.Create(context.Background(), CreateEventOptions{
			Type:       models.EventTypeNodeUptime,
			UserID:     user.ID,
			OccurredAt: timePtr(inWindow(i)),
		})
		require.NoError(t, err)
		ids = append(ids, event.ID)
	}

	// First page, newest first.
	page, err := svc.List(context.Background(), ListEventsOptions{UserID: user.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, ids[4], page.Events[0].ID)
	require.Equal(t, ids[3], page.Events[1].ID)
	require.True(t, page.HasNext)
	require.False(t, page.HasPrevious)

	// Second page via the after cursor.
	cursor := page.Events[1].ID
	page, err = svc.List(context.Background(), ListEventsOptions{UserID: user.ID, After: &cursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, ids[2], page.Events[0].ID)
	require.Equal(t, ids[1], page.Events[1].ID)
	require.True(t, page.HasNext)
	require.True(t, page.HasPrevious)

	// Back up with the before cursor.
	cursor = page.Events[0].ID
	page, err = svc.List(context.Background(), ListEventsOptions{UserID: user.ID, Before: &cursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, ids[4], page.Events[0].ID)
	require.Equal(t, ids[3], page.Events[1].ID)
	require.True(t, page.HasNext)
	require.False(t, page.HasPrevious)
}

func TestListExcludesRetractedEvents(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "mixed")

	kept, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeNodeUptime,
		UserID:     user.ID,
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)

	gone, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeNodeUptime,
		UserID:     user.ID,
		OccurredAt: timePtr(inWindow(1)),
	})
	require.NoError(t, err)
	_, err = svc.Retract(context.Background(), &gone.Event)
	require.NoError(t, err)

	page, err := svc.List(context.Background(), ListEventsOptions{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.Equal(t, kept.ID, page.Events[0].ID)
}

func TestLifetimeMetrics(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "contributor")

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), CreateEventOptions{
			Type:       models.EventTypeNodeUptime,
			UserID:     user.ID,
			OccurredAt: timePtr(inWindow(i)),
		})
		require.NoError(t, err)
	}
	_, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeBugCaught,
		UserID:     user.ID,
		URL:        strPtr("https://bugs.example.com/1"),
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)

	metrics, err := svc.LifetimeMetrics(context.Background(), user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, metrics[models.EventTypeNodeUptime].Count)
	require.EqualValues(t, 30, metrics[models.EventTypeNodeUptime].Points)
	require.EqualValues(t, 1, metrics[models.EventTypeBugCaught].Count)
	require.EqualValues(t, 100, metrics[models.EventTypeBugCaught].Points)
	require.EqualValues(t, 0, metrics[models.EventTypeBlockMined].Count)
}

func TestMetricsForRange(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "ranged")

	inside, err := svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeNodeUptime,
		UserID:     user.ID,
		OccurredAt: timePtr(inWindow(0)),
	})
	require.NoError(t, err)
	require.NotNil(t, inside)

	_, err = svc.Create(context.Background(), CreateEventOptions{
		Type:       models.EventTypeNodeUptime,
		UserID:     user.ID,
		OccurredAt: timePtr(inWindow(48)),
	})
	require.NoError(t, err)

	start := inWindow(-1)
	end := inWindow(1)
	metrics, total, err := svc.MetricsForRange(context.Background(), user.ID, start, end)
	require.NoError(t, err)
	require.EqualValues(t, 1, metrics[models.EventTypeNodeUptime].Count)
	require.EqualValues(t, 10, total)
}

func TestUpsertBlockMinedRespectsSequenceCap(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "miner")

	eligible := createTestBlock(t, db, "hash-low", 150000)
	event, err := svc.UpsertBlockMined(context.Background(), eligible, user)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.EqualValues(t, 100, event.Points)

	beyond := createTestBlock(t, db, "hash-high", 150001)
	event, err = svc.UpsertBlockMined(context.Background(), beyond, user)
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestDeleteBlockMinedRetractsEvent(t *testing.T) {
	db := newTestDB(t)
	svc := newTestEventService(t, db, &recordingTaskClient{})
	user := createTestUser(t, db, "forked")
	block := createTestBlock(t, db, "hash-fork", 100)

	created, err := svc.UpsertBlockMined(context.Background(), block, user)
	require.NoError(t, err)
	require.NotNil(t, created)

	retracted, err := svc.DeleteBlockMined(context.Background(), block)
	require.NoError(t, err)
	require.NotNil(t, retracted)
	require.Equal(t, models.EventStatusRetracted, retracted.Status)

	// No active event left for the block.
	again, err := svc.DeleteBlockMined(context.Background(), block)
	require.NoError(t, err)
	require.Nil(t, again)
}
