// Package stomp publishes messages to a STOMP broker such as ActiveMQ.
package stomp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

const (
	// DefaultPort is the STOMP port used when the broker URL names none.
	DefaultPort = "61613"

	// ValidationQueue is subscribed to when checking settings.
	ValidationQueue = "/queue/dummy-queue-for-validation"
)

// Publisher holds one long-lived STOMP connection. It is dialed lazily on
// the first publish and re-dialed after a failure. Publishes are
// serialized so concurrent callers never interleave frames.
type Publisher struct {
	mu          sync.Mutex
	settings    derivative.BrokerSettings
	conn        *stomp.Conn
	dialTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Publisher
type Option func(*Publisher)

// WithDialTimeout bounds connection attempts
func WithDialTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.dialTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a publisher for tcp:// or stomp:// broker URLs. No
// connection is made until the first publish.
func New(settings derivative.BrokerSettings, opts ...Option) (*Publisher, error) {
	if _, err := address(settings.URL); err != nil {
		return nil, err
	}
	p := &Publisher{
		settings:    settings,
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends msg to queue as a persistent message. It returns once the
// frame is handed to the connection; consumers are never awaited.
func (p *Publisher) Publish(ctx context.Context, queue string, msg derivative.Message) error {
	if queue == "" {
		return &derivative.PublishError{Queue: queue, Err: fmt.Errorf("%w: empty queue", derivative.ErrInvalidMessage)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		netConn, err := p.dial(ctx, p.settings)
		if err != nil {
			return unavailable(queue, err)
		}
		conn, err := p.connect(ctx, netConn, p.settings)
		if err != nil {
			return unavailable(queue, err)
		}
		p.conn = conn
	}

	opts := []func(*frame.Frame) error{stomp.SendOpt.Header("persistent", "true")}
	for k, v := range msg.Headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	if err := p.conn.Send(queue, msg.ContentType, msg.Body, opts...); err != nil {
		p.dropLocked()
		return unavailable(queue, err)
	}
	return nil
}

// Configure replaces the broker settings. The current connection is
// dropped and the next publish dials with the new settings.
func (p *Publisher) Configure(settings derivative.BrokerSettings) error {
	if _, err := address(settings.URL); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
	p.dropLocked()
	return nil
}

// Validate connects with settings, subscribes to a disposable queue and
// disconnects with a receipt. Brokers process frames in order, so the
// DISCONNECT receipt confirms the subscription was accepted; an ERROR frame
// in its place means it was refused. UNSUBSCRIBE is not used because not
// every broker acknowledges it. The whole round trip is bounded by ctx and
// by the dial timeout. The publisher's own connection is not touched.
func (p *Publisher) Validate(ctx context.Context, settings derivative.BrokerSettings) error {
	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	netConn, err := p.dial(ctx, settings)
	if err != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err)
	}
	// closing the socket fails any frame still waiting on the broker
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()

	deadline, _ := ctx.Deadline()
	conn, err := p.connect(ctx, netConn, settings, stomp.ConnOpt.DisconnectReceiptTimeout(time.Until(deadline)))
	if err != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, validationErr(ctx, err))
	}

	if _, err := conn.Subscribe(ValidationQueue, stomp.AckAuto); err != nil {
		conn.MustDisconnect()
		return fmt.Errorf("%w: subscribe: %v", derivative.ErrBrokerUnavailable, validationErr(ctx, err))
	}
	if err := conn.Disconnect(); err != nil {
		conn.MustDisconnect()
		return fmt.Errorf("%w: subscribe: %v", derivative.ErrBrokerUnavailable, validationErr(ctx, err))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err)
	}
	return nil
}

// validationErr prefers the context error once ctx is done, since the
// frame error is then only a side effect of the closed socket.
func validationErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Disconnect()
	p.conn = nil
	return err
}

func (p *Publisher) dial(ctx context.Context, settings derivative.BrokerSettings) (net.Conn, error) {
	addr, err := address(settings.URL)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: p.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return netConn, nil
}

// connect performs the STOMP handshake over netConn, closing it on failure.
func (p *Publisher) connect(ctx context.Context, netConn net.Conn, settings derivative.BrokerSettings, extra ...func(*stomp.Conn) error) (*stomp.Conn, error) {
	addr := netConn.RemoteAddr().String()
	host, _, _ := net.SplitHostPort(addr)
	if u, err := url.Parse(settings.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	opts := []func(*stomp.Conn) error{stomp.ConnOpt.Host(host)}
	if settings.User != "" {
		opts = append(opts, stomp.ConnOpt.Login(settings.User, settings.Password))
	}
	opts = append(opts, extra...)
	conn, err := stomp.ConnectWithContext(ctx, netConn, opts...)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	p.logger.Debug("connected to stomp broker", "addr", addr)
	return conn, nil
}

func (p *Publisher) dropLocked() {
	if p.conn == nil {
		return
	}
	if err := p.conn.MustDisconnect(); err != nil {
		p.logger.Debug("stomp disconnect", "err", err)
	}
	p.conn = nil
}

func unavailable(queue string, err error) error {
	return &derivative.PublishError{
		Queue:     queue,
		Err:       fmt.Errorf("%w: %v", derivative.ErrBrokerUnavailable, err),
		Retryable: true,
	}
}

// address returns host:port from a tcp:// or stomp:// URL.
func address(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid broker url %q: %w", raw, err)
	}
	if u.Scheme != "tcp" && u.Scheme != "stomp" {
		return "", fmt.Errorf("invalid broker url %q: scheme must be tcp or stomp", raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid broker url %q: missing host", raw)
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

var (
	_ derivative.Publisher        = (*Publisher)(nil)
	_ derivative.BrokerValidator  = (*Publisher)(nil)
	_ derivative.BrokerConfigurer = (*Publisher)(nil)
)
