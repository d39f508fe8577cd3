// Package memory is an in-process publisher that records messages.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Published is one recorded message.
type Published struct {
	Queue   string
	Message derivative.Message
}

// Publisher records every message it is given.
type Publisher struct {
	mu          sync.RWMutex
	messages    []Published
	settings    derivative.BrokerSettings
	publishErr  error
	validateErr error
}

// New creates an empty publisher
func New() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(ctx context.Context, queue string, msg derivative.Message) error {
	if queue == "" {
		return &derivative.PublishError{Queue: queue, Err: fmt.Errorf("%w: empty queue", derivative.ErrInvalidMessage)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return &derivative.PublishError{Queue: queue, Err: p.publishErr, Retryable: true}
	}

	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	p.messages = append(p.messages, Published{
		Queue:   queue,
		Message: derivative.Message{Body: body, ContentType: msg.ContentType, Headers: headers},
	})
	return nil
}

// Messages returns a copy of what was published, oldest first.
func (p *Publisher) Messages() []Published {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Published, len(p.messages))
	copy(out, p.messages)
	return out
}

// Reset forgets recorded messages.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

// FailWith makes subsequent publishes fail as a broker outage; nil heals.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err)
	}
	p.publishErr = err
}

// RejectValidation makes Validate return err.
func (p *Publisher) RejectValidation(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validateErr = err
}

func (p *Publisher) Validate(ctx context.Context, settings derivative.BrokerSettings) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.validateErr != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, p.validateErr)
	}
	return nil
}

func (p *Publisher) Configure(settings derivative.BrokerSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
	return nil
}

// Settings returns the last configured settings.
func (p *Publisher) Settings() derivative.BrokerSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

func (p *Publisher) Close() error {
	return nil
}

var (
	_ derivative.Publisher        = (*Publisher)(nil)
	_ derivative.BrokerValidator  = (*Publisher)(nil)
	_ derivative.BrokerConfigurer = (*Publisher)(nil)
)
