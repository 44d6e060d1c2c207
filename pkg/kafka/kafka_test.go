package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("fail")},
		{Offset: 3, Value: []byte("ok")},
	}}
	var seen []string
	c := NewConsumerWithReader(r, "docs", func(_ context.Context, _ []byte, value []byte) error {
		seen = append(seen, string(value))
		if string(value) == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []string{"ok", "fail", "ok"}, seen)
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "events")

	require.NoError(t, p.Publish(context.Background(), Event{Key: "k", Value: map[string]int{"n": 1}}))
	require.NoError(t, p.PublishBatch(context.Background(), []Event{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))

	require.Len(t, w.messages, 3)
	assert.Equal(t, "k", string(w.messages[0].Key))
	got, err := DecodeJSON[map[string]int](w.messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, 1, got["n"])
	assert.Equal(t, "2", string(w.messages[2].Value))
}

func TestProducerErrors(t *testing.T) {
	boom := errors.New("no brokers")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "events")
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}), boom)

	err := p.Publish(context.Background(), Event{Key: "k", Value: func() {}})
	var unsupported *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}
