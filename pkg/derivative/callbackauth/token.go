package callbackauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Claim names carried by callback tokens.
const (
	ClaimName   = "name"
	ClaimURL    = "url"
	ClaimTarget = "target"
	ClaimFields = "fields"
)

// Tokens issues and verifies HS256 callback tokens. Verification is
// stateless: a token is valid while its signature checks out and it has
// not expired.
type Tokens struct {
	auth   *jwtauth.JWTAuth
	expiry time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. expiry must be positive.
func NewTokens(secret string, expiry time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, fmt.Errorf("callbackauth: token secret is required")
	}
	if expiry <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExpiry, expiry)
	}
	return &Tokens{
		auth:   jwtauth.New("HS256", []byte(secret), nil),
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of t using now as its time source.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	c := *t
	c.now = now
	return &c
}

// Expiry returns how long issued tokens stay valid.
func (t *Tokens) Expiry() time.Duration {
	return t.expiry
}

// IssueToken signs claims with exp = now + expiry.
func (t *Tokens) IssueToken(c derivative.CallbackClaims) (string, error) {
	now := t.now()
	claims := map[string]interface{}{
		"sub":       c.Subject,
		ClaimName:   c.Name,
		ClaimURL:    c.URL,
		ClaimTarget: c.Target.String(),
	}
	if len(c.Fields) > 0 {
		claims[ClaimFields] = c.Fields
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, now.Add(t.expiry))

	_, token, err := t.auth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("callbackauth: sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry of a token and returns its claims.
func (t *Tokens) Verify(token string) (derivative.CallbackClaims, error) {
	if token == "" {
		return derivative.CallbackClaims{}, ErrNoToken
	}
	tok, err := t.auth.Decode(token)
	if err != nil && strings.Contains(err.Error(), "exp not satisfied") {
		return derivative.CallbackClaims{}, ErrTokenExpired
	}
	if err != nil || tok == nil {
		return derivative.CallbackClaims{}, ErrInvalidToken
	}
	exp := tok.Expiration()
	if exp.IsZero() || !t.now().Before(exp) {
		return derivative.CallbackClaims{}, ErrTokenExpired
	}

	c := derivative.CallbackClaims{Subject: tok.Subject()}
	if v, ok := tok.Get(ClaimName); ok {
		c.Name, _ = v.(string)
	}
	if v, ok := tok.Get(ClaimURL); ok {
		c.URL, _ = v.(string)
	}
	if v, ok := tok.Get(ClaimTarget); ok {
		s, _ := v.(string)
		if c.Target, err = uuid.Parse(s); err != nil {
			return derivative.CallbackClaims{}, ErrInvalidToken
		}
	}
	if v, ok := tok.Get(ClaimFields); ok {
		switch fields := v.(type) {
		case []string:
			c.Fields = fields
		case []interface{}:
			for _, f := range fields {
				if s, ok := f.(string); ok {
					c.Fields = append(c.Fields, s)
				}
			}
		}
	}
	return c, nil
}

// Authorize verifies token and checks that it grants writes to target.
func (t *Tokens) Authorize(token string, target derivative.CallbackTarget) (derivative.CallbackClaims, error) {
	c, err := t.Verify(token)
	if err != nil {
		return c, err
	}
	if c.Target != target.EntityID {
		return c, ErrWrongTarget
	}
	granted := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		granted[f] = true
	}
	for _, f := range target.Fields() {
		if !granted[f] {
			return c, fmt.Errorf("%w: field %s", ErrWrongTarget, f)
		}
	}
	return c, nil
}

var _ derivative.TokenIssuer = (*Tokens)(nil)
