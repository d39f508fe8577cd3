package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// FilePrefix is where stored files without a public base URL are served.
const FilePrefix = "/_flysystem"

// FileHandler streams stored files, so that source and destination URLs of
// schemes without a public base resolve to this server.
type FileHandler struct {
	service derivative.Service
	logger  *slog.Logger
}

// NewFileHandler creates a file handler
func NewFileHandler(service derivative.Service, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{service: service, logger: logger}
}

// Routes returns the file routes, to be mounted at FilePrefix
func (h *FileHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{scheme}/*", h.Download)
	r.Head("/{scheme}/*", h.Download)
	return r
}

// Download streams the content stored under {scheme}://{key}.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	scheme := chi.URLParam(r, "scheme")
	key := chi.URLParam(r, "*")
	// chi routes on the escaped path when one is kept
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}

	rc, mimeType, err := h.service.OpenFile(r.Context(), derivative.StorageURI(scheme, key))
	if err != nil {
		if !errors.Is(err, derivative.ErrObjectNotFound) {
			h.logger.Error("file download failed", "scheme", scheme, "key", key, "err", err)
		}
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mimeType)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("file download copy error", "scheme", scheme, "key", key, "err", err)
	}
}
