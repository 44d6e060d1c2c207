// Package publisher puts ingest events on the document ingest topic. Events
// are keyed by document id so every event of one document lands on the same
// partition and is applied in order.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/kafka"
)

// EventWriter is satisfied by *kafka.Producer.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher validates and publishes ingest events.
type Publisher struct {
	producer EventWriter
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer EventWriter) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Publish stamps and publishes ev. Invalid events are rejected with a
// *validator.ValidationError before anything is written.
func (p *Publisher) Publish(ctx context.Context, ev ingestion.IngestEvent) (*ingestion.IngestResponse, error) {
	if err := validator.ValidateEvent(&ev); err != nil {
		return nil, err
	}
	if ev.IngestedAt.IsZero() {
		ev.IngestedAt = p.now().UTC()
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.DocumentID, Value: ev}); err != nil {
		return nil, fmt.Errorf("publishing %s event for %s: %w", ev.Op, ev.DocumentID, err)
	}
	p.logger.Debug("event published", "doc_id", ev.DocumentID, "op", ev.Op)
	return &ingestion.IngestResponse{
		DocumentID: ev.DocumentID,
		Op:         ev.Op,
		Status:     "ACCEPTED",
	}, nil
}
