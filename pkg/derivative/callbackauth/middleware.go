package callbackauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Route parameters identifying the callback target.
const (
	ParamID        = "id"
	ParamField     = "destination_field"
	ParamTextField = "destination_text_field"
)

type contextKey string

const claimsContextKey contextKey = "callbackauth:claims"

// Middleware returns chi middleware guarding the callback routes. The
// bearer token must be valid and bound to the {id}, {destination_field}
// and {destination_text_field} route parameters. When signer is enabled
// the URL signature must validate too. Rejected requests never reach next.
func Middleware(tokens *Tokens, signer *Signer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				logger.Error("callback token verification is not configured")
				http.Error(w, "Authentication failed", http.StatusUnauthorized)
				return
			}

			target, err := targetFromRoute(r)
			if err != nil {
				http.Error(w, "Invalid callback target", http.StatusBadRequest)
				return
			}

			if signer != nil && signer.IsEnabled() {
				if err := signer.ValidateRequest(r); err != nil {
					handleAuthError(w, logger, r, err)
					return
				}
			}

			claims, err := tokens.Authorize(jwtauth.TokenFromHeader(r), target)
			if err != nil {
				handleAuthError(w, logger, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the verified claims of a callback request.
func ClaimsFromContext(ctx context.Context) (derivative.CallbackClaims, bool) {
	c, ok := ctx.Value(claimsContextKey).(derivative.CallbackClaims)
	return c, ok
}

// TargetFromRoute reads the callback target from chi route parameters.
func TargetFromRoute(r *http.Request) (derivative.CallbackTarget, error) {
	return targetFromRoute(r)
}

func targetFromRoute(r *http.Request) (derivative.CallbackTarget, error) {
	id, err := uuid.Parse(chi.URLParam(r, ParamID))
	if err != nil {
		return derivative.CallbackTarget{}, err
	}
	field := chi.URLParam(r, ParamField)
	if field == "" {
		return derivative.CallbackTarget{}, errors.New("missing destination field")
	}
	return derivative.CallbackTarget{
		EntityID:  id,
		Field:     field,
		TextField: chi.URLParam(r, ParamTextField),
	}, nil
}

func handleAuthError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	logger.Warn("callback rejected", "path", r.URL.Path, "err", err)
	switch {
	case errors.Is(err, ErrInvalidExpiration):
		http.Error(w, "Invalid expires parameter", http.StatusBadRequest)
	case IsForbidden(err):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	default:
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}
