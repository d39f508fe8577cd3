package derivative

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the main interface of the derivative pipeline
type Service interface {
	// Event operations
	EmitEvent(ctx context.Context, req EmitEventRequest) (*EventDescriptor, error)
	SaveEntity(ctx context.Context, req SaveEntityRequest) (*SaveEntityResult, error)
	DeleteEntity(ctx context.Context, req DeleteEntityRequest) error

	// Derivative operations
	GenerateDerivative(ctx context.Context, req GenerateDerivativeRequest) (*JobDescriptor, error)
	Ingest(ctx context.Context, res CallbackResult) error

	// OpenFile opens the content stored at a scheme://key location and
	// returns it with its media type.
	OpenFile(ctx context.Context, uri string) (io.ReadCloser, string, error)

	// Action configuration
	Actions() []ActionConfig
	Action(id string) (*ActionConfig, error)

	// Broker settings
	ValidateBroker(ctx context.Context, settings BrokerSettings) error
	ConfigureBroker(ctx context.Context, settings BrokerSettings) error
}

// EmitEventRequest publishes a plain event about an existing entity.
type EmitEventRequest struct {
	Kind     EntityKind
	EntityID uuid.UUID
	// UserID is the actor; uuid.Nil means the system user.
	UserID uuid.UUID
	Event  EventType
	Queue  string
	Data   map[string]any
}

// SaveEntityRequest persists a content mutation and runs its reactions.
type SaveEntityRequest struct {
	Entity Entity
	UserID uuid.UUID
}

// SaveEntityResult reports what a save emitted.
type SaveEntityResult struct {
	Created bool
	Event   *EventDescriptor
	Jobs    []*JobDescriptor
}

// DeleteEntityRequest deletes an entity and emits its Delete event.
type DeleteEntityRequest struct {
	Kind     EntityKind
	EntityID uuid.UUID
	UserID   uuid.UUID
}

// GenerateDerivativeRequest dispatches one derivative action for a media.
type GenerateDerivativeRequest struct {
	MediaID  uuid.UUID
	UserID   uuid.UUID
	ActionID string
}

// SystemUser is the actor of events triggered without a user.
var SystemUser = User{
	ID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte("simple-derivative:system")),
	Name: "system",
}
