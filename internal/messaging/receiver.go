package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/config"
)

// MessageProcessor handles one received task message. A returned error
// abandons the message back to the queue for redelivery.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Receiver drains the task queue and dispatches to a processor.
type Receiver struct {
	client    *azservicebus.Client
	queueName string
}

// NewReceiver creates a queue receiver. An empty connection string yields a
// receiver without a broker, matching the sender's mock client: Run idles
// until shutdown and the fallback sweep carries the recompute load.
func NewReceiver(cfg config.AzureConfig) (*Receiver, error) {
	if cfg.QueueConnStr == "" {
		log.Warn().Msg("Azure Service Bus connection string not set, task consumption disabled")
		return &Receiver{queueName: cfg.QueueName}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, err
	}
	return &Receiver{client: client, queueName: cfg.QueueName}, nil
}

// Run receives messages in batches until the context is cancelled.
// Completion is per message: Complete on success, Abandon on failure so the
// queue's retry policy redelivers it.
func (r *Receiver) Run(ctx context.Context, processor MessageProcessor) error {
	if r.client == nil {
		log.Warn().Msg("No Service Bus client, idling until shutdown")
		<-ctx.Done()
		return nil
	}

	receiver, err := r.client.NewReceiverForQueue(r.queueName, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing queue receiver")
		}
	}()

	log.Info().Str("queue", r.queueName).Msg("Starting task queue receiver")

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, message := range messages {
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing task")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error abandoning task")
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error completing task")
			}
		}
	}
}

// Close closes the underlying client.
func (r *Receiver) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close(context.Background())
}
