package service

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/tracing"
)

// TaskProcessor dispatches queued tasks to their handlers. Returning an
// error abandons the message so the queue redelivers it.
type TaskProcessor struct {
	points *PointsService
	tracer tracing.Tracer
}

// NewTaskProcessor creates a new task processor
func NewTaskProcessor(points *PointsService, tracer tracing.Tracer) *TaskProcessor {
	return &TaskProcessor{points: points, tracer: tracer}
}

// ProcessMessage handles one task message.
func (p *TaskProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope messaging.TaskEnvelope
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return errors.Wrap(err, "failed to unmarshal task envelope")
	}

	txn := p.tracer.StartTransaction("task-" + envelope.Task)
	defer p.tracer.EndTransaction(txn)

	switch envelope.Task {
	case messaging.TaskUpdateLatestPoints:
		var task messaging.UpdatePointsTask
		if err := json.Unmarshal(envelope.Data, &task); err != nil {
			p.tracer.RecordError(txn, err)
			return errors.Wrap(err, "failed to unmarshal update-points task")
		}
		p.tracer.AddAttribute(txn, "user_id", task.UserID)
		p.tracer.AddAttribute(txn, "type", string(task.Type))

		if err := p.points.Recompute(ctx, task.UserID, task.Type); err != nil {
			p.tracer.RecordError(txn, err)
			return err
		}
		return nil

	default:
		// Unknown tasks are completed, not redelivered forever.
		log.Warn().Str("task", envelope.Task).Msg("Dropping unknown task")
		return nil
	}
}
