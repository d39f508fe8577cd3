package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	p := New()

	headers := map[string]string{"Authorization": "Bearer t"}
	body := []byte("payload")
	require.NoError(t, p.Publish(ctx, "q", derivative.Message{Body: body, Headers: headers}))

	// recorded messages are copies
	body[0] = 'X'
	headers["Authorization"] = "changed"
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "q", msgs[0].Queue)
	assert.Equal(t, "payload", string(msgs[0].Message.Body))
	assert.Equal(t, "Bearer t", msgs[0].Message.Headers["Authorization"])

	p.Reset()
	assert.Empty(t, p.Messages())

	err := p.Publish(ctx, "", derivative.Message{})
	assert.ErrorIs(t, err, derivative.ErrInvalidMessage)
}

func TestPublisher_Failures(t *testing.T) {
	ctx := context.Background()
	p := New()

	p.FailWith(errors.New("connection reset"))
	err := p.Publish(ctx, "q", derivative.Message{})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
	assert.True(t, derivative.IsRetryable(err))
	assert.Empty(t, p.Messages())

	p.FailWith(nil)
	assert.NoError(t, p.Publish(ctx, "q", derivative.Message{}))

	p.RejectValidation(errors.New("bad credentials"))
	assert.ErrorIs(t, p.Validate(ctx, derivative.BrokerSettings{}), derivative.ErrBrokerUnavailable)
}
