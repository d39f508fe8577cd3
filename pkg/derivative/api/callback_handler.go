package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/callbackauth"
)

// DefaultMaxCallbackBytes bounds the artifact a worker may deliver.
const DefaultMaxCallbackBytes = 512 << 20

// CallbackHandler receives derivative artifacts from workers
type CallbackHandler struct {
	service  derivative.Service
	tokens   *callbackauth.Tokens
	signer   *callbackauth.Signer
	logger   *slog.Logger
	maxBytes int64
}

// NewCallbackHandler creates a callback handler. Requests are authorized
// with tokens and, when signer is enabled, a signed URL.
func NewCallbackHandler(service derivative.Service, tokens *callbackauth.Tokens, signer *callbackauth.Signer, logger *slog.Logger) *CallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackHandler{
		service:  service,
		tokens:   tokens,
		signer:   signer,
		logger:   logger,
		maxBytes: DefaultMaxCallbackBytes,
	}
}

// WithMaxBytes sets the largest accepted body
func (h *CallbackHandler) WithMaxBytes(n int64) *CallbackHandler {
	h.maxBytes = n
	return h
}

// Routes returns the callback routes, to be mounted at derivative.CallbackPrefix
func (h *CallbackHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// the auth middleware reads the route parameters, so it is bound per
	// route rather than with r.Use
	auth := r.With(callbackauth.Middleware(h.tokens, h.signer, h.logger))
	for _, pattern := range []string{
		"/{id}/{destination_field}",
		"/{id}/{destination_field}/{destination_text_field}",
	} {
		auth.Put(pattern, h.Attach)
		auth.Post(pattern, h.Attach)
		auth.Get(pattern, h.Attach)
	}

	return r
}

// Attach stores the request body and attaches it to the target media. The
// Content-Location header names where the artifact is stored. An empty
// body is accepted and ignored.
func (h *CallbackHandler) Attach(w http.ResponseWriter, r *http.Request) {
	target, err := callbackauth.TargetFromRoute(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid callback target")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res := derivative.CallbackResult{
		TargetID:             target.EntityID,
		DestinationField:     target.Field,
		DestinationTextField: target.TextField,
		ContentLocation:      r.Header.Get("Content-Location"),
		ContentType:          r.Header.Get("Content-Type"),
		Body:                 body,
	}

	if err := h.service.Ingest(r.Context(), res); err != nil {
		h.logger.Error("unable to attach derivative",
			"id", target.EntityID,
			"field", target.Field,
			"location", res.ContentLocation,
			"err", err,
		)
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
