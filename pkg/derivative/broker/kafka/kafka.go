// Package kafka publishes messages to Kafka, one topic per queue.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// messageWriter is the part of kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// activeWriter counts the writes still using w so it is closed only after
// they return.
type activeWriter struct {
	w        messageWriter
	inflight sync.WaitGroup
}

func (a *activeWriter) drainAndClose() error {
	a.inflight.Wait()
	return a.w.Close()
}

// Publisher wraps a kafka-go Writer. The queue name is used as topic and
// message headers become Kafka headers.
type Publisher struct {
	mu        sync.Mutex
	writer    *activeWriter
	brokers   []string
	closed    bool
	newWriter func(brokers []string) messageWriter
}

// New creates a publisher for kafka://host:port[,host:port...] URLs.
func New(settings derivative.BrokerSettings) (*Publisher, error) {
	brokers, err := Brokers(settings.URL)
	if err != nil {
		return nil, err
	}
	p := &Publisher{brokers: brokers, newWriter: newWriter}
	p.writer = &activeWriter{w: p.newWriter(brokers)}
	return p, nil
}

func newWriter(brokers []string) messageWriter {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes msg to the topic named queue.
func (p *Publisher) Publish(ctx context.Context, queue string, msg derivative.Message) error {
	if queue == "" {
		return &derivative.PublishError{Queue: queue, Err: fmt.Errorf("%w: empty queue", derivative.ErrInvalidMessage)}
	}

	km := kafkago.Message{
		Topic: queue,
		Value: msg.Body,
		Time:  time.Now().UTC(),
	}
	if msg.ContentType != "" {
		km.Headers = append(km.Headers, kafkago.Header{Key: "content-type", Value: []byte(msg.ContentType)})
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &derivative.PublishError{Queue: queue, Err: fmt.Errorf("%w: publisher closed", derivative.ErrBrokerUnavailable)}
	}
	w := p.writer
	w.inflight.Add(1)
	p.mu.Unlock()
	defer w.inflight.Done()

	if err := w.w.WriteMessages(ctx, km); err != nil {
		if errors.Is(err, kafkago.MessageSizeTooLarge) {
			return &derivative.PublishError{Queue: queue, Err: fmt.Errorf("%w: %v", derivative.ErrInvalidMessage, err)}
		}
		return &derivative.PublishError{
			Queue:     queue,
			Err:       fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err),
			Retryable: true,
		}
	}
	return nil
}

// Configure points the publisher at new brokers. New publishes use the new
// writer at once; the old one is closed after its pending writes return.
func (p *Publisher) Configure(settings derivative.BrokerSettings) error {
	brokers, err := Brokers(settings.URL)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("kafka publisher closed")
	}
	old := p.writer
	p.writer = &activeWriter{w: p.newWriter(brokers)}
	p.brokers = brokers
	p.mu.Unlock()
	return old.drainAndClose()
}

// Validate dials the first broker and reads the cluster metadata.
func (p *Publisher) Validate(ctx context.Context, settings derivative.BrokerSettings) error {
	brokers, err := Brokers(settings.URL)
	if err != nil {
		return err
	}
	conn, err := kafkago.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err)
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err)
	}
	return nil
}

// Close waits for pending writes, then flushes and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	w := p.writer
	p.mu.Unlock()
	return w.drainAndClose()
}

// Brokers parses the broker list of a kafka:// URL.
func Brokers(raw string) ([]string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url %q: %w", raw, err)
	}
	if u.Scheme != "kafka" || u.Host == "" {
		return nil, fmt.Errorf("invalid broker url %q: expected kafka://host:port", raw)
	}
	var brokers []string
	for _, b := range strings.Split(u.Host, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers, nil
}

var (
	_ derivative.Publisher        = (*Publisher)(nil)
	_ derivative.BrokerValidator  = (*Publisher)(nil)
	_ derivative.BrokerConfigurer = (*Publisher)(nil)
)
