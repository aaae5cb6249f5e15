package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/config"
	"example.com/testnet/services/points/internal/models"
)

// ElasticClient indexes ledger events for ad-hoc search. Indexing is
// best-effort and never sits on the write path's critical section.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexEvent indexes one ledger event. The document id is the event id, so
// re-indexing after a points update or retraction overwrites in place.
func (c *ElasticClient) IndexEvent(ctx context.Context, event *models.Event) error {
	doc := map[string]interface{}{
		"id":          event.ID,
		"type":        event.Type,
		"user_id":     event.UserID,
		"points":      event.Points,
		"status":      event.Status,
		"occurred_at": event.OccurredAt,
	}
	if event.URL != nil {
		doc["url"] = *event.URL
	}
	if event.BlockID != nil {
		doc["block_id"] = *event.BlockID
	}
	if event.DepositID != nil {
		doc["deposit_id"] = *event.DepositID
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	req := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: fmt.Sprintf("%d", event.ID),
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Uint("event_id", event.ID).Msg("event indexed")
	return nil
}
