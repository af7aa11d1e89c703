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

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByRecord(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{writer: w}

	payload := []byte(`{"event":"tx_confirmed","record":{"id":"rec-1"}}`)
	require.NoError(t, p.Publish(context.Background(), "rec-1", payload))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "rec-1", string(w.msgs[0].Key))
	assert.JSONEq(t, string(payload), string(w.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishWrapsWriteError(t *testing.T) {
	p := &Publisher{writer: &recordingWriter{err: kafka.LeaderNotAvailable}}

	err := p.Publish(context.Background(), "rec-2", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: publish rec-2")
	assert.True(t, errors.Is(err, kafka.LeaderNotAvailable))
}

func TestNewPublisherConfig(t *testing.T) {
	p := NewPublisher(Config{Brokers: []string{"k1:9092", "k2:9092"}, Topic: "yieldbridge.settled"})

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "yieldbridge.settled", w.Topic)
	assert.Equal(t, "k1:9092,k2:9092", w.Addr.String())
	assert.Equal(t, 10*time.Second, w.WriteTimeout)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
