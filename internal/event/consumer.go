package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	pkgkafka "github.com/utafrali/catalogsearch/pkg/kafka"
)

// Kafka topics carrying catalogue changes that affect the search index.
var (
	TopicProductCreated = pkgkafka.Topic("product", "created")
	TopicProductUpdated = pkgkafka.Topic("product", "updated")
	TopicProductDeleted = pkgkafka.Topic("product", "deleted")
	TopicStockUpdated   = pkgkafka.Topic("inventory", "stock_updated")
)

// Topics lists every topic the consumer handles.
func Topics() []string {
	return []string{TopicProductCreated, TopicProductUpdated, TopicProductDeleted, TopicStockUpdated}
}

// ProductIndexer keeps single products in the index up to date.
type ProductIndexer interface {
	IndexProduct(ctx context.Context, id int64) error
	DeleteProduct(ctx context.Context, id int64) error
}

// productEventData is the part of a product or stock payload the consumer
// needs. Product events carry "id", stock events "product_id".
type productEventData struct {
	ID        json.Number `json:"id"`
	ProductID json.Number `json:"product_id"`
}

// Consumer reindexes products in response to catalogue events.
type Consumer struct {
	indexer ProductIndexer
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(indexer ProductIndexer, logger *slog.Logger) *Consumer {
	return &Consumer{
		indexer: indexer,
		logger:  logger,
	}
}

// Handle processes a Kafka event based on its type. Event types may be
// given with or without the topic prefix.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.QualifiedType() {
	case TopicProductCreated, TopicProductUpdated, TopicStockUpdated:
		return c.handleChanged(ctx, event)
	case TopicProductDeleted:
		return c.handleDeleted(ctx, event)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleChanged re-indexes the product. The indexer removes a product that
// no longer exists, so not-found is not a failure here.
func (c *Consumer) handleChanged(ctx context.Context, event *pkgkafka.Event) error {
	id, err := productID(event)
	if err != nil {
		return err
	}

	err = c.indexer.IndexProduct(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		c.logger.InfoContext(ctx, "product gone, dropped from index",
			slog.Int64("product_id", id),
			slog.String("event_type", event.EventType),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("index product from %s event: %w", event.EventType, err)
	}

	c.logger.DebugContext(ctx, "re-indexed product from event",
		slog.Int64("product_id", id),
		slog.String("event_type", event.EventType),
	)
	return nil
}

func (c *Consumer) handleDeleted(ctx context.Context, event *pkgkafka.Event) error {
	id, err := productID(event)
	if err != nil {
		return err
	}
	return c.deleteProduct(ctx, id)
}

func (c *Consumer) deleteProduct(ctx context.Context, id int64) error {
	if err := c.indexer.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product %d from index: %w", id, err)
	}
	return nil
}

// productID reads the product id from the payload, falling back to the
// event's aggregate id.
func productID(event *pkgkafka.Event) (int64, error) {
	var data productEventData
	if event.HasData() {
		if err := event.UnmarshalData(&data); err != nil {
			return 0, err
		}
	}

	raw := data.ProductID.String()
	if raw == "" {
		raw = data.ID.String()
	}
	if raw == "" {
		raw = event.AggregateID
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s event %s: invalid product id %q", pkgkafka.ErrMalformedEvent, event.EventType, event.EventID, raw)
	}
	return id, nil
}
