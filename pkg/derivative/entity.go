package derivative

import (
	"github.com/google/uuid"
)

// EntityKind is the type of a content entity.
type EntityKind string

// Entity kind constants.
const (
	KindNode  EntityKind = "node"
	KindMedia EntityKind = "media"
	KindFile  EntityKind = "file"
	KindUser  EntityKind = "user"
)

// ParseEntityKind validates a kind taken from a route or config value.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch k := EntityKind(s); k {
	case KindNode, KindMedia, KindFile, KindUser:
		return k, true
	}
	return "", false
}

// Entity is the minimal identity every content entity exposes.
type Entity interface {
	EntityID() uuid.UUID
	Kind() EntityKind
	Bundle() string
	Label() string
}

// Revisionable entities keep a revision history.
type Revisionable interface {
	RevisionCount() int
}

// HasSourceArtifact is implemented by entities that wrap a binary source
// file. The second return value is false when no source is resolvable.
type HasSourceArtifact interface {
	SourceArtifact() (*File, bool)
}

// FieldHolder is implemented by entities with configurable fields.
type FieldHolder interface {
	HasField(name string) bool
	Field(name string) (FieldValue, bool)
	SetField(name string, value FieldValue) error
}

// FieldSchema exposes the field definitions of an entity's bundle.
type FieldSchema interface {
	FieldDefinition(name string) (FieldDefinition, bool)
}

// FieldType is the storage type of a field.
type FieldType string

// Field type constants.
const (
	FieldTypeFile     FieldType = "file"
	FieldTypeImage    FieldType = "image"
	FieldTypeText     FieldType = "text"
	FieldTypeTextLong FieldType = "text_long"
)

// FieldDefinition describes one field of a bundle.
type FieldDefinition struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	URIScheme string    `json:"uri_scheme,omitempty"`
}

// FieldValue is the value of a single-valued field. File fields reference a
// file entity by TargetID; text fields carry Value and Format.
type FieldValue struct {
	TargetID *uuid.UUID `json:"target_id,omitempty"`
	Value    string     `json:"value,omitempty"`
	Format   string     `json:"format,omitempty"`
}

// Fields is a field map with its bundle schema.
type Fields struct {
	Schema map[string]FieldDefinition `json:"schema,omitempty"`
	Values map[string]FieldValue      `json:"values,omitempty"`
}

func (f *Fields) HasField(name string) bool {
	if name == "" {
		return false
	}
	_, ok := f.Schema[name]
	return ok
}

func (f *Fields) Field(name string) (FieldValue, bool) {
	v, ok := f.Values[name]
	return v, ok
}

func (f *Fields) SetField(name string, value FieldValue) error {
	if !f.HasField(name) {
		return &FieldError{Field: name, Err: ErrFieldNotDefined}
	}
	if f.Values == nil {
		f.Values = make(map[string]FieldValue)
	}
	f.Values[name] = value
	return nil
}

func (f *Fields) FieldDefinition(name string) (FieldDefinition, bool) {
	def, ok := f.Schema[name]
	return def, ok
}

func (f Fields) clone() Fields {
	out := Fields{}
	if f.Schema != nil {
		out.Schema = make(map[string]FieldDefinition, len(f.Schema))
		for k, v := range f.Schema {
			out.Schema[k] = v
		}
	}
	if f.Values != nil {
		out.Values = make(map[string]FieldValue, len(f.Values))
		for k, v := range f.Values {
			if v.TargetID != nil {
				id := *v.TargetID
				v.TargetID = &id
			}
			out.Values[k] = v
		}
	}
	return out
}

// Node is a repository object (a document, a collection, ...).
type Node struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Revisions int       `json:"revisions"`
	Fields
}

func (n *Node) EntityID() uuid.UUID { return n.ID }
func (n *Node) Kind() EntityKind    { return KindNode }
func (n *Node) Bundle() string      { return n.Type }
func (n *Node) Label() string       { return n.Title }
func (n *Node) RevisionCount() int  { return n.Revisions }

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	c := *n
	c.Fields = n.Fields.clone()
	return &c
}

// DefaultSourceField is the media field holding the original file.
const DefaultSourceField = "field_media_file"

// Media wraps exactly one binary source file plus descriptive fields.
//
// Source is resolved by the repository from SourceField when the media is
// loaded; it is nil when the reference is missing or dangling.
type Media struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	SourceField string    `json:"source_field"`
	Revisions   int       `json:"revisions"`
	Fields

	Source *File `json:"-"`
}

func (m *Media) EntityID() uuid.UUID { return m.ID }
func (m *Media) Kind() EntityKind    { return KindMedia }
func (m *Media) Bundle() string      { return m.Type }
func (m *Media) Label() string       { return m.Name }
func (m *Media) RevisionCount() int  { return m.Revisions }

func (m *Media) SourceArtifact() (*File, bool) {
	return m.Source, m.Source != nil
}

// SourceFieldName returns the configured source field or the default.
func (m *Media) SourceFieldName() string {
	if m.SourceField == "" {
		return DefaultSourceField
	}
	return m.SourceField
}

// SourceFileID returns the file id referenced by the source field.
func (m *Media) SourceFileID() (uuid.UUID, bool) {
	v, ok := m.Field(m.SourceFieldName())
	if !ok || v.TargetID == nil {
		return uuid.Nil, false
	}
	return *v.TargetID, true
}

// Clone returns a deep copy.
func (m *Media) Clone() *Media {
	c := *m
	c.Fields = m.Fields.clone()
	if m.Source != nil {
		c.Source = m.Source.Clone()
	}
	return &c
}

// File is a stored binary. URI is "scheme://key".
type File struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	URI      string    `json:"uri"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
}

func (f *File) EntityID() uuid.UUID { return f.ID }
func (f *File) Kind() EntityKind    { return KindFile }
func (f *File) Bundle() string      { return string(KindFile) }
func (f *File) Label() string       { return f.Filename }

// Clone returns a copy.
func (f *File) Clone() *File {
	c := *f
	return &c
}

// User is the actor of an event.
type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (u *User) EntityID() uuid.UUID { return u.ID }
func (u *User) Kind() EntityKind    { return KindUser }
func (u *User) Bundle() string      { return string(KindUser) }
func (u *User) Label() string       { return u.Name }

var (
	_ Revisionable      = (*Node)(nil)
	_ FieldHolder       = (*Node)(nil)
	_ FieldSchema       = (*Media)(nil)
	_ HasSourceArtifact = (*Media)(nil)
	_ FieldHolder       = (*Media)(nil)
	_ Entity            = (*File)(nil)
	_ Entity            = (*User)(nil)
)
