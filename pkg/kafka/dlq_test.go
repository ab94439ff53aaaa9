package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func headerMap(msg kafka.Message) map[string]string {
	m := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		m[h.Key] = string(h.Value)
	}
	return m
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "ecommerce.dlq", DLQTopicPrefix)
	assert.Equal(t, "ecommerce.dlq.ecommerce.product.updated", DLQTopic("ecommerce.product.updated"))
	assert.Equal(t, "ecommerce.dlq.", DLQTopic(""))
}

func TestDLQProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newDLQProducer(w, testLogger())
	p.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.FixedZone("CEST", 7200)) }

	original := kafka.Message{
		Topic:     "ecommerce.product.updated",
		Partition: 2,
		Offset:    41,
		Key:       []byte("7"),
		Value:     []byte(`{"event_type":"product.updated"}`),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("00-abc-def-01")}},
	}
	require.NoError(t, p.Publish(context.Background(), original, errors.New("index unavailable"), "search-indexer"))

	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "ecommerce.dlq.ecommerce.product.updated", msg.Topic)
	assert.Equal(t, original.Key, msg.Key)
	assert.Equal(t, original.Value, msg.Value)

	h := headerMap(msg)
	assert.Equal(t, "00-abc-def-01", h["traceparent"])
	assert.Equal(t, "ecommerce.product.updated", h[HeaderDLQOriginalTopic])
	assert.Equal(t, "2", h[HeaderDLQOriginalPartition])
	assert.Equal(t, "41", h[HeaderDLQOriginalOffset])
	assert.Equal(t, "search-indexer", h[HeaderDLQConsumerGroup])
	assert.Equal(t, "index unavailable", h[HeaderDLQError])
	assert.Equal(t, "2025-06-15T10:00:00Z", h[HeaderDLQFailedAt])
}

func TestDLQProducer_PublishWithoutCause(t *testing.T) {
	w := &fakeWriter{}
	p := newDLQProducer(w, testLogger())

	require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: "t"}, nil, "g"))
	assert.NotContains(t, headerMap(w.written[0]), HeaderDLQError)
}

func TestDLQProducer_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newDLQProducer(w, testLogger())

	err := p.Publish(context.Background(), kafka.Message{Topic: "ecommerce.product.deleted"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to DLQ ecommerce.dlq.ecommerce.product.deleted")
	assert.ErrorIs(t, err, w.err)
}

func TestDLQProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, newDLQProducer(w, testLogger()).Close())
	assert.True(t, w.closed)
}
