package derivative

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EventType is the kind of activity an event describes.
type EventType string

// Event type constants.
const (
	EventCreate             EventType = "Create"
	EventUpdate             EventType = "Update"
	EventDelete             EventType = "Delete"
	EventGenerateDerivative EventType = "Generate Derivative"
)

// ParseEventType maps a case-insensitive event name to an EventType.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return EventCreate, nil
	case "update":
		return EventUpdate, nil
	case "delete":
		return EventDelete, nil
	case "generate derivative", "generatederivative", "generate_derivative":
		return EventGenerateDerivative, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
}

// ActivityStreamsContext is the JSON-LD context of every emitted event.
const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

const urnPrefix = "urn:uuid:"

// URN formats an id the way events reference actors and objects.
func URN(id uuid.UUID) string {
	return urnPrefix + id.String()
}

// ParseURN extracts the id from a "urn:uuid:" reference.
func ParseURN(s string) (uuid.UUID, error) {
	if !strings.HasPrefix(s, urnPrefix) {
		return uuid.Nil, fmt.Errorf("not a uuid urn: %q", s)
	}
	return uuid.Parse(strings.TrimPrefix(s, urnPrefix))
}

// Link is an Activity Streams link to one representation of an entity.
type Link struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Href      string `json:"href"`
	MediaType string `json:"mediaType"`
	Rel       string `json:"rel"`
}

// Actor identifies the user that triggered an event.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  []Link `json:"url"`
}

// Object identifies the entity an event is about.
//
// IsNewVersion is nil for derivative requests, which are side requests
// rather than primary version changes.
type Object struct {
	ID           string `json:"id"`
	URL          []Link `json:"url"`
	IsNewVersion *bool  `json:"isNewVersion,omitempty"`
}

// Attachment carries job-specific fields flattened into an event.
type Attachment struct {
	Type      string         `json:"type"`
	Content   map[string]any `json:"content"`
	MediaType string         `json:"mediaType"`
}

// EventDescriptor is the serializable description of what happened to a
// content object. It is a value object with no behavior.
type EventDescriptor struct {
	Context    string      `json:"@context"`
	Type       string      `json:"type"`
	Summary    string      `json:"summary"`
	Actor      Actor       `json:"actor"`
	Object     Object      `json:"object"`
	Target     string      `json:"target,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`

	// Event is the routing-level event type; it is not serialized.
	Event EventType `json:"-"`
}

// Keys of the job payload handed to workers. Anything else is stripped.
const (
	JobKeyQueue          = "queue"
	JobKeyEvent          = "event"
	JobKeyArgs           = "args"
	JobKeySourceURI      = "source_uri"
	JobKeyDestinationURI = "destination_uri"
	JobKeyFileUploadURI  = "file_upload_uri"
	JobKeyMimetype       = "mimetype"
)

// AllowedJobKeys lists every key a job payload may contain.
var AllowedJobKeys = []string{
	JobKeyQueue,
	JobKeyEvent,
	JobKeyArgs,
	JobKeySourceURI,
	JobKeyDestinationURI,
	JobKeyFileUploadURI,
	JobKeyMimetype,
}

// JobDescriptor is a derivative-generation request for one entity.
type JobDescriptor struct {
	Queue          string `json:"queue"`
	Event          string `json:"event"`
	Args           string `json:"args"`
	SourceURI      string `json:"source_uri"`
	DestinationURI string `json:"destination_uri"`
	FileUploadURI  string `json:"file_upload_uri"`
	Mimetype       string `json:"mimetype"`

	// AuthToken proves the callback comes from an authorized dispatch. It is
	// sent as a message header, never inside the payload.
	AuthToken string `json:"-"`

	// Target is the callback capability encoded in DestinationURI.
	Target CallbackTarget `json:"-"`
}

// Data returns the job as an event data map restricted to AllowedJobKeys.
func (j *JobDescriptor) Data() map[string]any {
	return map[string]any{
		JobKeyQueue:          j.Queue,
		JobKeyEvent:          j.Event,
		JobKeyArgs:           j.Args,
		JobKeySourceURI:      j.SourceURI,
		JobKeyDestinationURI: j.DestinationURI,
		JobKeyFileUploadURI:  j.FileUploadURI,
		JobKeyMimetype:       j.Mimetype,
	}
}

// CallbackResult is one inbound worker result. It only lives for the
// duration of the request that carried it.
type CallbackResult struct {
	TargetID             uuid.UUID
	DestinationField     string
	DestinationTextField string
	ContentLocation      string
	ContentType          string
	Body                 []byte
}

// Message is a broker message: a body plus transport headers.
type Message struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// BrokerSettings holds broker connection settings.
type BrokerSettings struct {
	URL      string `json:"url"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}
