package derivative

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrEntityNotFound indicates the entity does not exist
	ErrEntityNotFound = errors.New("entity not found")

	// ErrUserNotFound indicates the acting user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrFileNotFound indicates no file record matched
	ErrFileNotFound = errors.New("file not found")

	// ErrSourceNotFound indicates the entity exposes no resolvable source artifact
	ErrSourceNotFound = errors.New("source artifact not found")

	// ErrFieldNotDefined indicates the field is missing from the bundle schema
	ErrFieldNotDefined = errors.New("field not defined")

	// ErrObjectNotFound indicates no stored content at a key
	ErrObjectNotFound = errors.New("object not found")

	// ErrPrepareDirectory indicates the storage location could not be created or written
	ErrPrepareDirectory = errors.New("unable to prepare storage directory")

	// ErrStorageBackendNotFound indicates no blob store is registered for a scheme
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidContentLocation indicates a malformed Content-Location
	ErrInvalidContentLocation = errors.New("invalid content location")

	// ErrCallbackRejected indicates an IngestGuard refused a callback
	ErrCallbackRejected = errors.New("callback rejected")

	// ErrInvalidCallbackPath indicates a path that does not address a callback target
	ErrInvalidCallbackPath = errors.New("invalid callback path")

	// ErrInvalidEventType indicates an unknown event name
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrUnsupportedEntity indicates an entity kind the operation cannot handle
	ErrUnsupportedEntity = errors.New("unsupported entity")

	// ErrActionNotFound indicates no derivative action with the given id
	ErrActionNotFound = errors.New("action not found")
)

// Action configuration errors
var (
	ErrInvalidMimetype         = errors.New("mimetype must be of the form type/subtype")
	ErrMissingDestinationField = errors.New("destination field is required")
	ErrSameField               = errors.New("destination field must differ from source field")
	ErrInvalidOCRMimetype      = errors.New("ocr output mimetype must be text/*")
	ErrMissingTextField        = errors.New("destination text field is required")
	ErrMissingQueue            = errors.New("queue is required")
	ErrUnknownPathToken        = errors.New("unknown path token")
	ErrInvalidActionType       = errors.New("invalid action type")
)

// Broker errors
var (
	// ErrBrokerUnavailable indicates a connection or authentication fault.
	// Publishes that fail with it may be retried.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrInvalidMessage indicates a message that can never be delivered
	ErrInvalidMessage = errors.New("invalid message")
)

// JobError represents an error building or dispatching a job
type JobError struct {
	EntityID uuid.UUID
	Op       string
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job operation %s failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Scheme string
	Key    string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on scheme %s: %v", e.Op, e.Key, e.Scheme, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed publish to a queue
type PublishError struct {
	Queue     string
	Err       error
	Retryable bool
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// FieldError represents an error on a single entity field
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ActionError represents an invalid derivative action configuration
type ActionError struct {
	ActionID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a publish failure is an infrastructure fault
// that a caller may retry.
func IsRetryable(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrBrokerUnavailable)
}
