package callbackauth

import "time"

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecretKey sets the secret key used for HMAC signing.
// The key should be at least 32 bytes.
func WithSecretKey(key string) Option {
	return func(s *Signer) {
		s.secretKey = []byte(key)
	}
}

// WithDefaultExpiration sets the expiration used when SignURL gets none
func WithDefaultExpiration(duration time.Duration) Option {
	return func(s *Signer) {
		s.defaultExpiration = duration
	}
}

// WithCustomPayloadFunc replaces the PATH|EXPIRES signature payload
func WithCustomPayloadFunc(fn func(path string, expiresAt int64) string) Option {
	return func(s *Signer) {
		s.customPayloadFunc = fn
	}
}

// WithSignerClock sets the signer's time source
func WithSignerClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}
