package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/callbackauth"
)

// RouterConfig holds what the HTTP surface is built from
type RouterConfig struct {
	Service derivative.Service
	Tokens  *callbackauth.Tokens
	Signer  *callbackauth.Signer
	Logger  *slog.Logger

	// AdminAuth guards /api/v1. Without it the admin API is open.
	AdminAuth func(http.Handler) http.Handler
	// Metrics is served on /metrics when set.
	Metrics http.Handler

	MaxCallbackBytes int64
}

// NewRouter builds the server routes:
//
//	GET  /healthz
//	GET  /metrics
//	PUT|POST|GET /attach/media/{id}/{destination_field}[/{destination_text_field}]
//	GET  /_flysystem/{scheme}/{key}
//	/api/v1/...  admin API
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	callbacks := NewCallbackHandler(cfg.Service, cfg.Tokens, cfg.Signer, logger)
	if cfg.MaxCallbackBytes > 0 {
		callbacks.WithMaxBytes(cfg.MaxCallbackBytes)
	}
	r.Mount(derivative.CallbackPrefix, callbacks.Routes())
	r.Mount(FilePrefix, NewFileHandler(cfg.Service, logger).Routes())

	admin := NewAdminHandler(cfg.Service, logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if cfg.AdminAuth != nil {
			r.Use(cfg.AdminAuth)
		}
		r.Mount("/", admin.Routes())
	})

	return r
}
