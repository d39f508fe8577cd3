package callbackauth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)

	target := uuid.New()
	tok, err := tokens.IssueToken(derivative.CallbackClaims{
		Subject: "42",
		Name:    "admin",
		URL:     "http://localhost:8080/user/42",
		Target:  target,
		Fields:  []string{"field_ocr_file", "field_ocr_text"},
	})
	require.NoError(t, err)

	c, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", c.Subject)
	assert.Equal(t, "admin", c.Name)
	assert.Equal(t, "http://localhost:8080/user/42", c.URL)
	assert.Equal(t, target, c.Target)
	assert.Equal(t, []string{"field_ocr_file", "field_ocr_text"}, c.Fields)
}

func TestTokens_VerifyFailures(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)
	claims := derivative.CallbackClaims{Subject: "1", Target: uuid.New()}

	_, err = tokens.Verify("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = tokens.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokens("other", time.Hour)
	require.NoError(t, err)
	forged, err := other.IssueToken(claims)
	require.NoError(t, err)
	_, err = tokens.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, IsForbidden(err))

	old, err := tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).IssueToken(claims)
	require.NoError(t, err)
	_, err = tokens.Verify(old)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsForbidden(err))
}

func TestTokens_Authorize(t *testing.T) {
	tokens, err := NewTokens("secret", time.Hour)
	require.NoError(t, err)
	id := uuid.New()

	tok, err := tokens.IssueToken(derivative.CallbackClaims{Subject: "1", Target: id, Fields: []string{"field_ocr_file", "field_ocr_text"}})
	require.NoError(t, err)

	_, err = tokens.Authorize(tok, derivative.CallbackTarget{EntityID: id, Field: "field_ocr_file", TextField: "field_ocr_text"})
	assert.NoError(t, err)

	_, err = tokens.Authorize(tok, derivative.CallbackTarget{EntityID: id, Field: "field_ocr_file"})
	assert.NoError(t, err)

	_, err = tokens.Authorize(tok, derivative.CallbackTarget{EntityID: id, Field: "field_thumbnail"})
	assert.ErrorIs(t, err, ErrWrongTarget)

	_, err = tokens.Authorize(tok, derivative.CallbackTarget{EntityID: uuid.New(), Field: "field_ocr_file"})
	assert.ErrorIs(t, err, ErrWrongTarget)

	// tokens from plain lifecycle events grant no fields
	plain, err := tokens.IssueToken(derivative.CallbackClaims{Subject: "1", Target: id})
	require.NoError(t, err)
	_, err = tokens.Authorize(plain, derivative.CallbackTarget{EntityID: id, Field: "field_ocr_file"})
	assert.ErrorIs(t, err, ErrWrongTarget)
}

func TestNewTokens_Validation(t *testing.T) {
	_, err := NewTokens("", time.Hour)
	assert.Error(t, err)

	_, err = NewTokens("secret", 0)
	assert.ErrorIs(t, err, ErrInvalidExpiry)
}
