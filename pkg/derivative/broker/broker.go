// Package broker selects a publisher implementation from a broker URL.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/broker/kafka"
	"github.com/tendant/simple-derivative/pkg/derivative/broker/memory"
	"github.com/tendant/simple-derivative/pkg/derivative/broker/stomp"
)

// Publisher is a publisher that can also validate and take new settings.
type Publisher interface {
	derivative.Publisher
	derivative.BrokerValidator
	derivative.BrokerConfigurer
}

// New returns the publisher for the URL scheme of settings:
// tcp:// and stomp:// use STOMP, kafka:// uses Kafka, memory:// records
// messages in process.
func New(settings derivative.BrokerSettings, logger *slog.Logger) (Publisher, error) {
	scheme, err := Scheme(settings.URL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "tcp", "stomp":
		return stomp.New(settings, stomp.WithLogger(logger))
	case "kafka":
		return kafka.New(settings)
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported broker scheme %q", scheme)
}

// Supported reports whether New can build a publisher for scheme.
func Supported(scheme string) bool {
	switch scheme {
	case "tcp", "stomp", "kafka", "memory":
		return true
	}
	return false
}

// Validate checks settings with a throwaway publisher of the matching kind.
func Validate(ctx context.Context, settings derivative.BrokerSettings, logger *slog.Logger) error {
	p, err := New(settings, logger)
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Validate(ctx, settings)
}

// Validator checks broker settings before they are applied. Settings of
// the running publisher's kind are checked by that publisher; any other
// scheme gets a throwaway publisher.
type Validator struct {
	Current derivative.BrokerValidator
	Logger  *slog.Logger
}

// Validate implements derivative.BrokerValidator.
func (v *Validator) Validate(ctx context.Context, settings derivative.BrokerSettings) error {
	scheme, err := Scheme(settings.URL)
	if err != nil {
		return err
	}
	if v.Current != nil && handles(v.Current, scheme) {
		return v.Current.Validate(ctx, settings)
	}
	return Validate(ctx, settings, v.Logger)
}

// handles reports whether p publishes to brokers of scheme.
func handles(p derivative.BrokerValidator, scheme string) bool {
	switch p.(type) {
	case *stomp.Publisher:
		return scheme == "tcp" || scheme == "stomp"
	case *kafka.Publisher:
		return scheme == "kafka"
	case *memory.Publisher:
		return scheme == "memory"
	}
	return false
}

// Scheme returns the scheme of a broker URL.
func Scheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid broker url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("invalid broker url %q: missing scheme", raw)
	}
	return u.Scheme, nil
}
