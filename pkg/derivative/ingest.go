package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Callback outcomes reported to MetricsRecorder.
const (
	IngestNoop     = "noop"
	IngestApplied  = "applied"
	IngestNotFound = "not_found"
	IngestRejected = "rejected"
	IngestFailed   = "failed"
)

// Ingester applies worker callbacks: it stores the artifact and attaches it
// to the target media.
type Ingester struct {
	repo          Repository
	stores        map[string]BlobStore
	defaultScheme string
	guard         IngestGuard
	logger        *slog.Logger
	metrics       MetricsRecorder
}

// NewIngester creates an Ingester over the given repository and per-scheme
// blob stores.
func NewIngester(repo Repository, stores map[string]BlobStore, defaultScheme string, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		repo:          repo,
		stores:        stores,
		defaultScheme: defaultScheme,
		logger:        logger,
		metrics:       noopMetrics{},
	}
}

// Ingest applies one callback. An empty body is a connectivity probe and
// succeeds without touching anything. A missing destination field or text
// field only skips that attachment; the artifact is still stored.
//
// Writes are not locked: an existing artifact at the same location is
// overwritten and the last callback applied wins.
func (i *Ingester) Ingest(ctx context.Context, res CallbackResult) error {
	if len(res.Body) == 0 {
		i.metrics.CallbackIngested(IngestNoop)
		return nil
	}

	err := i.ingest(ctx, res)
	switch {
	case err == nil:
		i.metrics.CallbackIngested(IngestApplied)
	case errors.Is(err, ErrEntityNotFound):
		i.metrics.CallbackIngested(IngestNotFound)
	case errors.Is(err, ErrInvalidContentLocation), errors.Is(err, ErrCallbackRejected):
		i.metrics.CallbackIngested(IngestRejected)
	default:
		i.metrics.CallbackIngested(IngestFailed)
	}
	return err
}

func (i *Ingester) ingest(ctx context.Context, res CallbackResult) error {
	entity, err := i.repo.GetEntity(ctx, KindMedia, res.TargetID)
	if err != nil {
		return fmt.Errorf("load media %s: %w", res.TargetID, err)
	}

	if i.guard != nil {
		if err := i.guard.AllowIngest(ctx, entity, res); err != nil {
			return fmt.Errorf("%w: %w", ErrCallbackRejected, err)
		}
	}

	scheme, key, err := SplitStorageURI(res.ContentLocation, i.defaultScheme)
	if err != nil {
		return err
	}
	store, ok := i.stores[scheme]
	if !ok {
		return &StorageError{Scheme: scheme, Key: key, Op: "prepare", Err: fmt.Errorf("%w: %w", ErrPrepareDirectory, ErrStorageBackendNotFound)}
	}
	if err := store.PrepareDirectory(ctx, dirname(key)); err != nil {
		i.logger.Error("unable to prepare storage directory", "scheme", scheme, "dir", dirname(key), "err", err)
		return &StorageError{Scheme: scheme, Key: key, Op: "prepare", Err: fmt.Errorf("%w: %w", ErrPrepareDirectory, err)}
	}
	if err := store.Upload(ctx, key, bytes.NewReader(res.Body)); err != nil {
		return &StorageError{Scheme: scheme, Key: key, Op: "upload", Err: err}
	}

	file, err := i.registerFile(ctx, StorageURI(scheme, key), res)
	if err != nil {
		return err
	}

	holder, ok := entity.(FieldHolder)
	if !ok {
		i.logger.Warn("target has no fields, artifact stored but not attached", "id", res.TargetID, "uri", file.URI)
		return nil
	}

	if holder.HasField(res.DestinationField) {
		id := file.ID
		if err := holder.SetField(res.DestinationField, FieldValue{TargetID: &id}); err != nil {
			return err
		}
	} else {
		i.logger.Warn("destination field not defined on target", "id", res.TargetID, "field", res.DestinationField)
	}

	if res.DestinationTextField != "" {
		if holder.HasField(res.DestinationTextField) {
			if err := holder.SetField(res.DestinationTextField, FieldValue{Value: nl2br(string(res.Body))}); err != nil {
				return err
			}
		} else {
			i.logger.Warn("destination text field not defined on target", "id", res.TargetID, "field", res.DestinationTextField)
		}
	}

	if err := i.repo.SaveEntity(ctx, entity); err != nil {
		return fmt.Errorf("save media %s: %w", res.TargetID, err)
	}
	return nil
}

// registerFile returns the file record for uri, creating it on first use so
// repeated callbacks keep pointing at one record.
func (i *Ingester) registerFile(ctx context.Context, uri string, res CallbackResult) (*File, error) {
	file, err := i.repo.FindFileByURI(ctx, uri)
	if errors.Is(err, ErrFileNotFound) {
		file = &File{ID: uuid.New(), URI: uri}
	} else if err != nil {
		return nil, fmt.Errorf("find file %s: %w", uri, err)
	}

	_, key, _ := SplitStorageURI(uri, i.defaultScheme)
	file.Filename = basename(key)
	file.MimeType = contentType(res.ContentType, key)
	file.Size = int64(len(res.Body))

	if err := i.repo.SaveFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save file %s: %w", uri, err)
	}
	return file, nil
}

func contentType(header, key string) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil {
			return mt
		}
	}
	if mt := mime.TypeByExtension(path.Ext(key)); mt != "" {
		mt, _, _ = strings.Cut(mt, ";")
		return mt
	}
	return "application/octet-stream"
}

// nl2br inserts "<br />" before every line break, keeping the break.
func nl2br(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for j := 0; j < len(s); j++ {
		c := s[j]
		if c != '\n' && c != '\r' {
			b.WriteByte(c)
			continue
		}
		b.WriteString("<br />")
		b.WriteByte(c)
		if j+1 < len(s) && (s[j+1] == '\n' || s[j+1] == '\r') && s[j+1] != c {
			j++
			b.WriteByte(s[j])
		}
	}
	return b.String()
}
