package stomp

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(l) }()
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func TestPublisher_Publish(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()

	consumer, err := stomp.Dial("tcp", addr)
	require.NoError(t, err)
	defer consumer.Disconnect()
	sub, err := consumer.Subscribe("/queue/islandora-connector-houdini", stomp.AckAuto)
	require.NoError(t, err)

	p, err := New(derivative.BrokerSettings{URL: "tcp://" + addr}, WithDialTimeout(2*time.Second))
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 2; i++ {
		err = p.Publish(ctx, "/queue/islandora-connector-houdini", derivative.Message{
			Body:        []byte(`{"type":"Activity"}`),
			ContentType: "application/json",
			Headers:     map[string]string{"Authorization": "Bearer abc"},
		})
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.C:
			require.NoError(t, msg.Err)
			assert.Equal(t, `{"type":"Activity"}`, string(msg.Body))
			assert.Equal(t, "application/json", msg.ContentType)
			assert.Equal(t, "Bearer abc", msg.Header.Get("Authorization"))
			assert.Equal(t, "true", msg.Header.Get("persistent"))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestPublisher_Validate(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()

	p, err := New(derivative.BrokerSettings{URL: "tcp://" + addr})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	assert.NoError(t, p.Validate(ctx, derivative.BrokerSettings{URL: "stomp://" + addr}))
	assert.Less(t, time.Since(start), 5*time.Second)

	closed := closedAddr(t)
	err = p.Validate(ctx, derivative.BrokerSettings{URL: "tcp://" + closed})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
}

// startSilentServer accepts the STOMP handshake and then never answers
// another frame.
func startSilentServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				if _, err := r.ReadBytes(0); err != nil {
					return
				}
				_, _ = conn.Write([]byte("CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"))
				_, _ = io.Copy(io.Discard, r)
			}()
		}
	}()
	return l.Addr().String()
}

func TestPublisher_ValidateHonorsContext(t *testing.T) {
	addr := startSilentServer(t)

	p, err := New(derivative.BrokerSettings{URL: "tcp://" + addr})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Validate(ctx, derivative.BrokerSettings{URL: "tcp://" + addr})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPublisher_ValidateDialTimeout(t *testing.T) {
	addr := startSilentServer(t)

	p, err := New(derivative.BrokerSettings{URL: "tcp://" + addr}, WithDialTimeout(300*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = p.Validate(context.Background(), derivative.BrokerSettings{URL: "tcp://" + addr})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPublisher_Unavailable(t *testing.T) {
	p, err := New(derivative.BrokerSettings{URL: "tcp://" + closedAddr(t)}, WithDialTimeout(time.Second))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "/queue/q", derivative.Message{Body: []byte("x")})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
	assert.True(t, derivative.IsRetryable(err))

	err = p.Publish(context.Background(), "", derivative.Message{Body: []byte("x")})
	assert.ErrorIs(t, err, derivative.ErrInvalidMessage)
	assert.False(t, derivative.IsRetryable(err))
}

func TestPublisher_Configure(t *testing.T) {
	addr := startServer(t)

	p, err := New(derivative.BrokerSettings{URL: "tcp://" + closedAddr(t)}, WithDialTimeout(time.Second))
	require.NoError(t, err)
	defer p.Close()

	assert.Error(t, p.Configure(derivative.BrokerSettings{URL: "kafka://localhost:9092"}))
	require.NoError(t, p.Configure(derivative.BrokerSettings{URL: "tcp://" + addr}))
	assert.NoError(t, p.Publish(context.Background(), "/queue/q", derivative.Message{Body: []byte("x")}))
}

func TestAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"tcp://activemq:61613", "activemq:61613", false},
		{"stomp://activemq", "activemq:61613", false},
		{"tcp://127.0.0.1:1234", "127.0.0.1:1234", false},
		{"kafka://activemq:61613", "", true},
		{"tcp://", "", true},
		{"activemq:61613", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := address(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}
