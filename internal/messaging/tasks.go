package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/testnet/services/points/internal/models"
)

// Task names routed through the queue.
const (
	TaskUpdateLatestPoints = "update-points"
)

// TaskEnvelope is the wire format for queued tasks.
type TaskEnvelope struct {
	Task string          `json:"task"`
	Data json.RawMessage `json:"data"`
}

// UpdatePointsTask asks the worker to recompute one (user, category)
// aggregate from the ledger.
type UpdatePointsTask struct {
	UserID uint             `json:"user_id"`
	Type   models.EventType `json:"type"`
}

// UpdatePointsDedupeKey builds the deduplication key for a recompute task.
// The queue's duplicate detection collapses repeat enqueues for the same
// (user, category) while one is still pending; since the worker recomputes
// from the ledger, one execution covers them all.
func UpdatePointsDedupeKey(userID uint, t models.EventType) string {
	return fmt.Sprintf("%s:%d:%s", TaskUpdateLatestPoints, userID, t)
}

// TaskClient enqueues tasks for the background worker. Delivery is
// at-least-once; retries are the queue's responsibility.
type TaskClient interface {
	EnqueueTask(ctx context.Context, task string, payload interface{}, dedupeKey string) error
	Close() error
}

// EnqueueUpdatePoints schedules an aggregate recompute for (user, category).
func EnqueueUpdatePoints(ctx context.Context, client TaskClient, userID uint, t models.EventType) error {
	return client.EnqueueTask(
		ctx,
		TaskUpdateLatestPoints,
		UpdatePointsTask{UserID: userID, Type: t},
		UpdatePointsDedupeKey(userID, t),
	)
}
