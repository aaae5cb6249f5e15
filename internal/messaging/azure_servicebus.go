package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/config"
)

// serviceBusTaskClient implements TaskClient over Azure Service Bus. The
// queue must have duplicate detection enabled: the dedupe key travels as
// the MessageID, so re-enqueues of a still-pending key are dropped broker
// side.
type serviceBusTaskClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// mockTaskClient is used for local development without a broker.
type mockTaskClient struct{}

// NewTaskClient creates a task client for the configured queue. An empty
// connection string yields a mock client that only logs.
func NewTaskClient(cfg config.AzureConfig) (TaskClient, error) {
	if cfg.QueueConnStr == "" {
		log.Warn().Msg("Azure Service Bus connection string not set, using mock task client")
		return &mockTaskClient{}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusTaskClient{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// EnqueueTask sends a task envelope to the queue.
func (s *serviceBusTaskClient) EnqueueTask(ctx context.Context, task string, payload interface{}, dedupeKey string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	body, err := json.Marshal(TaskEnvelope{Task: task, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	correlationID := uuid.NewString()
	msg := &azservicebus.Message{
		Body:          body,
		MessageID:     &dedupeKey,
		CorrelationID: &correlationID,
		ApplicationProperties: map[string]interface{}{
			"task": task,
			"time": time.Now().UTC().Format(time.RFC3339),
		},
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (s *serviceBusTaskClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// EnqueueTask implementation for the mock client
func (m *mockTaskClient) EnqueueTask(ctx context.Context, task string, payload interface{}, dedupeKey string) error {
	log.Info().
		Str("task", task).
		Str("dedupe_key", dedupeKey).
		Interface("payload", payload).
		Msg("[MOCK ServiceBus] task enqueued")
	return nil
}

// Close implementation for the mock client
func (m *mockTaskClient) Close() error { return nil }
