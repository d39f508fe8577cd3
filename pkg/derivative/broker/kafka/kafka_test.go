package kafka

import (
	"context"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

func TestBrokers(t *testing.T) {
	got, err := Brokers("kafka://k1:9092,k2:9092")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, got)

	for _, bad := range []string{"tcp://k1:9092", "kafka://", "::"} {
		_, err := Brokers(bad)
		assert.Error(t, err, bad)
	}
}

func TestPublisher_Offline(t *testing.T) {
	_, err := New(derivative.BrokerSettings{URL: "stomp://k1"})
	assert.Error(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := l.Addr().String()
	l.Close()

	p, err := New(derivative.BrokerSettings{URL: "kafka://" + closed})
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), "", derivative.Message{Body: []byte("x")})
	assert.ErrorIs(t, err, derivative.ErrInvalidMessage)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Validate(ctx, derivative.BrokerSettings{URL: "kafka://" + closed})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)

	require.NoError(t, p.Configure(derivative.BrokerSettings{URL: "kafka://k1:9092"}))
	assert.Equal(t, []string{"k1:9092"}, p.brokers)
}

// blockingWriter holds every write until release is closed.
type blockingWriter struct {
	started  chan struct{}
	release  chan struct{}
	inflight atomic.Int32
	closed   atomic.Bool
	// closedEarly records a Close that arrived while a write was running
	closedEarly atomic.Bool
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (w *blockingWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Add(-1)
	w.started <- struct{}{}
	<-w.release
	return nil
}

func (w *blockingWriter) Close() error {
	if w.inflight.Load() > 0 {
		w.closedEarly.Store(true)
	}
	w.closed.Store(true)
	return nil
}

func TestPublisher_ConfigureDrainsWrites(t *testing.T) {
	first := newBlockingWriter()
	second := newBlockingWriter()
	writers := []*blockingWriter{first, second}

	p, err := New(derivative.BrokerSettings{URL: "kafka://k1:9092"})
	require.NoError(t, err)
	p.newWriter = func([]string) messageWriter {
		w := writers[0]
		writers = writers[1:]
		return w
	}
	p.writer = &activeWriter{w: p.newWriter(p.brokers)}

	published := make(chan error, 1)
	go func() {
		published <- p.Publish(context.Background(), "q", derivative.Message{Body: []byte("x")})
	}()
	<-first.started

	configured := make(chan error, 1)
	go func() {
		configured <- p.Configure(derivative.BrokerSettings{URL: "kafka://k2:9092"})
	}()

	select {
	case <-configured:
		t.Fatal("configure returned while a write was pending")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, first.closed.Load())

	close(first.release)
	require.NoError(t, <-published)
	require.NoError(t, <-configured)
	assert.True(t, first.closed.Load())
	assert.False(t, first.closedEarly.Load())

	// later publishes go to the new writer
	close(second.release)
	require.NoError(t, p.Publish(context.Background(), "q", derivative.Message{Body: []byte("y")}))
	<-second.started

	require.NoError(t, p.Close())
	assert.True(t, second.closed.Load())
	err = p.Publish(context.Background(), "q", derivative.Message{Body: []byte("z")})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
}

func TestPublisher_Integration(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := New(derivative.BrokerSettings{URL: "kafka://" + brokers})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Validate(ctx, derivative.BrokerSettings{URL: "kafka://" + brokers}))

	topic := "derivative-test-" + time.Now().Format("150405")
	require.NoError(t, p.Publish(ctx, topic, derivative.Message{
		Body:        []byte(`{"type":"Activity"}`),
		ContentType: "application/json",
		Headers:     map[string]string{"Authorization": "Bearer abc"},
	}))

	r := kafkago.NewReader(kafkago.ReaderConfig{Brokers: strings.Split(brokers, ","), Topic: topic})
	defer r.Close()
	msg, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Activity"}`, string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "Bearer abc", headers["Authorization"])
	assert.Equal(t, "application/json", headers["content-type"])
}
