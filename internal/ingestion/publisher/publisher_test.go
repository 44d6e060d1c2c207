package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/kafka"
)

type recordingWriter struct {
	events []kafka.Event
	err    error
}

func (w *recordingWriter) Publish(_ context.Context, ev kafka.Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

func TestPublishKeysByDocument(t *testing.T) {
	w := &recordingWriter{}
	p := New(w)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	resp, err := p.Publish(context.Background(), ingestion.IngestEvent{
		Op:         ingestion.OpAdd,
		DocumentID: "doc-1",
		Fields:     map[string]string{"body": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", resp.Status)

	require.Len(t, w.events, 1)
	assert.Equal(t, "doc-1", w.events[0].Key)
	ev := w.events[0].Value.(ingestion.IngestEvent)
	assert.Equal(t, fixed, ev.IngestedAt)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	w := &recordingWriter{}
	_, err := New(w).Publish(context.Background(), ingestion.IngestEvent{Op: ingestion.OpAdd})
	var verr *validator.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, w.events)
}

func TestPublishWrapsWriterErrors(t *testing.T) {
	boom := errors.New("broker down")
	_, err := New(&recordingWriter{err: boom}).Publish(context.Background(), ingestion.IngestEvent{
		Op: ingestion.OpDelete, DocumentID: "a",
	})
	assert.ErrorIs(t, err, boom)
}
