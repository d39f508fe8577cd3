package callbackauth

import (
	"errors"

	"github.com/go-chi/jwtauth"
)

// Signature validation errors
var (
	// ErrNoSecretKey is returned when attempting to sign without a configured secret key
	ErrNoSecretKey = errors.New("callbackauth: no secret key configured")

	// ErrMissingSignature is returned when the signature query parameter is missing
	ErrMissingSignature = errors.New("callbackauth: missing signature parameter")

	// ErrMissingExpiration is returned when the expires query parameter is missing
	ErrMissingExpiration = errors.New("callbackauth: missing expires parameter")

	// ErrInvalidExpiration is returned when the expires parameter cannot be parsed
	ErrInvalidExpiration = errors.New("callbackauth: invalid expires parameter")

	// ErrExpired is returned when the signed URL has expired
	ErrExpired = errors.New("callbackauth: URL has expired")

	// ErrInvalidSignature is returned when the signature is invalid
	ErrInvalidSignature = errors.New("callbackauth: invalid signature")
)

// Token errors
var (
	ErrNoToken       = jwtauth.ErrNoTokenFound
	ErrInvalidToken  = jwtauth.ErrUnauthorized
	ErrTokenExpired  = jwtauth.ErrExpired
	ErrWrongTarget   = errors.New("callbackauth: token not issued for this target")
	ErrInvalidExpiry = errors.New("callbackauth: invalid expiry expression")
)

// IsAuthError returns true if the error is a signature or token error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMissingExpiration) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrWrongTarget)
}

// IsForbidden reports whether an auth error means the caller presented
// valid but unusable credentials: expired, or bound to another target.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrWrongTarget)
}
