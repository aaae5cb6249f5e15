package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	parsed, err := ParseEventType("BLOCK_MINED")
	require.NoError(t, err)
	assert.Equal(t, EventTypeBlockMined, parsed)

	_, err = ParseEventType("block_mined")
	assert.Error(t, err)

	_, err = ParseEventType("")
	assert.Error(t, err)
}

func TestPointsPerCategoryCoversAllTypes(t *testing.T) {
	for _, eventType := range EventTypes() {
		points, ok := PointsPerCategory[eventType]
		require.True(t, ok, "no catalog entry for %s", eventType)
		assert.Greater(t, points, int64(0))
	}
	assert.EqualValues(t, 100, PointsPerCategory[EventTypeBlockMined])
	assert.EqualValues(t, 1000, PointsPerCategory[EventTypeCommunityContribution])
	assert.EqualValues(t, 1, PointsPerCategory[EventTypeSendTransaction])
}

func TestUserPointsCategoryAccessors(t *testing.T) {
	at := time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC)
	var row UserPoints

	for _, eventType := range EventTypes() {
		assert.EqualValues(t, 0, row.CategoryPoints(eventType))
		assert.Nil(t, row.CategoryLastOccurredAt(eventType))
	}

	row.SetCategory(EventTypeBugCaught, 300, &at)
	assert.EqualValues(t, 300, row.CategoryPoints(EventTypeBugCaught))
	require.NotNil(t, row.CategoryLastOccurredAt(EventTypeBugCaught))
	assert.True(t, at.Equal(*row.CategoryLastOccurredAt(EventTypeBugCaught)))

	// Other categories are untouched.
	assert.EqualValues(t, 0, row.CategoryPoints(EventTypeBlockMined))

	row.SetCategory(EventTypeBugCaught, 0, nil)
	assert.EqualValues(t, 0, row.CategoryPoints(EventTypeBugCaught))
	assert.Nil(t, row.CategoryLastOccurredAt(EventTypeBugCaught))
}

func TestEventActive(t *testing.T) {
	event := Event{Status: EventStatusActive}
	assert.True(t, event.Active())
	event.Status = EventStatusRetracted
	assert.False(t, event.Active())
}
