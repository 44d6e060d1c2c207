// Package consumer reads ingest events from Kafka and applies them to the
// dealer. It also publishes a DumpEvent for every installed dump.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/durable"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/metrics"
)

// Target is the write side of the dealer.
type Target interface {
	AddWithBoosts(ctx context.Context, id search.DocID, doc search.Document, boosts []float64) error
	Del(ctx context.Context, id search.DocID) error
	UpdateBoosts(ctx context.Context, id search.DocID, boosts []float64) error
	UpdateCategories(ctx context.Context, id search.DocID, values map[string]string) error
	UpdateTimestamp(ctx context.Context, id search.DocID, ts int64) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies each ingest
// event to target. Undecodable or invalid events are logged and committed
// so they do not block the partition; indexing failures are returned and
// the message is left uncommitted.
func HandleMessage(target Target, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			record(m, "unknown", "invalid")
			return nil
		}
		if err := validator.ValidateEvent(&event); err != nil {
			logger.Error("dropping invalid ingest event",
				"error", err,
				"key", string(key),
				"op", event.Op,
			)
			record(m, event.Op, "invalid")
			return nil
		}

		logger.Debug("processing ingest event", "doc_id", event.DocumentID, "op", event.Op)
		if err := apply(ctx, target, event); err != nil {
			record(m, event.Op, "error")
			return fmt.Errorf("applying %s for %s: %w", event.Op, event.DocumentID, err)
		}
		record(m, event.Op, "ok")
		if event.Op == ingestion.OpAdd || event.Op == ingestion.OpDelete {
			logger.Info("document updated", "doc_id", event.DocumentID, "op", event.Op)
		}
		return nil
	}
}

func apply(ctx context.Context, target Target, ev ingestion.IngestEvent) error {
	id := search.NewDocID(ev.DocumentID)
	switch ev.Op {
	case ingestion.OpAdd:
		if err := target.AddWithBoosts(ctx, id, search.Document{Fields: ev.Fields}, ev.Boosts); err != nil {
			return err
		}
		if len(ev.Categories) > 0 {
			return target.UpdateCategories(ctx, id, ev.Categories)
		}
		return nil
	case ingestion.OpDelete:
		return target.Del(ctx, id)
	case ingestion.OpBoosts:
		return target.UpdateBoosts(ctx, id, ev.Boosts)
	case ingestion.OpCategories:
		return target.UpdateCategories(ctx, id, ev.Categories)
	case ingestion.OpTimestamp:
		return target.UpdateTimestamp(ctx, id, ev.Timestamp)
	default:
		return errors.New("unknown operation " + ev.Op)
	}
}

func record(m *metrics.Metrics, op, status string) {
	if m == nil {
		return
	}
	m.IngestEventsTotal.WithLabelValues(op, status).Inc()
}

// EventWriter is satisfied by *kafka.Producer.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// DumpNotifier returns a dump listener that publishes a DumpEvent for every
// successful dump. Publishing is best effort; failures are logged.
func DumpNotifier(w EventWriter, timeout time.Duration) durable.DumpListener {
	logger := slog.Default().With("component", "dump-notifier")
	return func(result durable.DumpResult) {
		if result.Err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		event := kafka.Event{
			Key: result.ID,
			Value: ingestion.DumpEvent{
				DumpID:     result.ID,
				Timestamp:  result.Timestamp,
				Segment:    result.Segment,
				Docs:       result.Docs,
				Deletes:    result.Deletes,
				DurationMS: result.Duration.Milliseconds(),
				FinishedAt: time.Now().UTC(),
			},
		}
		if err := w.Publish(ctx, event); err != nil {
			logger.Error("failed to publish dump event", "dump_id", result.ID, "error", err)
		}
	}
}
