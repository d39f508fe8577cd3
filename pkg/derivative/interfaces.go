package derivative

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends. One store is
// registered per URI scheme.
type BlobStore interface {
	// PrepareDirectory ensures dir exists and is writable
	PrepareDirectory(ctx context.Context, dir string) error

	// Upload writes content at key, replacing anything already there
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Download opens the content stored at key
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content stored at key
	Delete(ctx context.Context, key string) error
}

// Repository is the content store the pipeline reads entities from and
// saves field changes to.
type Repository interface {
	GetEntity(ctx context.Context, kind EntityKind, id uuid.UUID) (Entity, error)
	SaveEntity(ctx context.Context, entity Entity) error
	DeleteEntity(ctx context.Context, kind EntityKind, id uuid.UUID) error

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	SaveUser(ctx context.Context, user *User) error

	// FindFileByURI returns ErrFileNotFound when no file has the URI
	FindFileByURI(ctx context.Context, uri string) (*File, error)
	// SaveFile upserts by URI. When the URI is already recorded under
	// another id, that record is updated and its id is written back to
	// file.ID.
	SaveFile(ctx context.Context, file *File) error
}

// Publisher sends messages to named queues. Publish returns once the
// broker has accepted the frame; it never waits for a consumer.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// BrokerValidator checks that broker settings reach a working broker.
type BrokerValidator interface {
	Validate(ctx context.Context, settings BrokerSettings) error
}

// BrokerConfigurer accepts new broker settings at runtime.
type BrokerConfigurer interface {
	Configure(settings BrokerSettings) error
}

// URLResolver resolves the public URLs of entities and files.
type URLResolver interface {
	EntityURL(entity Entity) string
	RestURL(entity Entity, format string) string
	DownloadURL(file *File) string
	CallbackURL(target CallbackTarget) string
}

// CallbackSigner signs callback URLs so a worker can present them back.
type CallbackSigner interface {
	SignCallbackURL(rawURL string, expiresIn time.Duration) (string, error)
}

// CallbackClaims is what a callback token grants.
type CallbackClaims struct {
	Subject string
	Name    string
	URL     string
	Target  uuid.UUID
	Fields  []string
}

// TokenIssuer issues short-lived bearer tokens for callbacks.
type TokenIssuer interface {
	IssueToken(claims CallbackClaims) (string, error)
	Expiry() time.Duration
}

// IngestGuard may refuse a callback before it is applied. A guard can
// implement a job-id or version check; without one the last applied
// callback wins.
type IngestGuard interface {
	AllowIngest(ctx context.Context, target Entity, result CallbackResult) error
}

// MetricsRecorder receives pipeline outcomes.
type MetricsRecorder interface {
	JobDispatched(queue string, err error)
	CallbackIngested(result string)
}

type noopMetrics struct{}

func (noopMetrics) JobDispatched(string, error) {}
func (noopMetrics) CallbackIngested(string)     {}
