package derivative

import (
	"fmt"
	"time"
)

// JobBuilder turns a derivative action into a job for one entity.
type JobBuilder struct {
	Resolver URLResolver
	// Signer signs the callback URL. Unsigned URLs are used when nil.
	Signer CallbackSigner
	// SignExpiry bounds how long the signed callback URL stays valid.
	SignExpiry time.Duration
	// DefaultScheme is used when neither the field nor the action names one.
	DefaultScheme string
	Now           func() time.Time
}

// Build resolves the source artifact of entity and assembles the job for
// action. An entity without a resolvable source fails with
// ErrSourceNotFound and yields no job.
func (b *JobBuilder) Build(entity Entity, action *ActionConfig) (*JobDescriptor, error) {
	fail := func(err error) (*JobDescriptor, error) {
		return nil, &JobError{EntityID: entity.EntityID(), Op: "build", Err: err}
	}

	src, ok := entity.(HasSourceArtifact)
	if !ok {
		return fail(ErrSourceNotFound)
	}
	file, ok := src.SourceArtifact()
	if !ok {
		return fail(ErrSourceNotFound)
	}

	target := CallbackTarget{
		EntityID:  entity.EntityID(),
		Field:     action.DestinationField,
		TextField: action.DestinationTextField,
	}
	destination := b.Resolver.CallbackURL(target)
	if b.Signer != nil {
		signed, err := b.Signer.SignCallbackURL(destination, b.SignExpiry)
		if err != nil {
			return fail(fmt.Errorf("sign callback url: %w", err))
		}
		destination = signed
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	key := PathTemplate(action.Path).Expand(now().UTC(), entity.EntityID())

	return &JobDescriptor{
		Queue:          action.Queue,
		Event:          string(EventGenerateDerivative),
		Args:           action.Args,
		SourceURI:      b.Resolver.DownloadURL(file),
		DestinationURI: destination,
		FileUploadURI:  StorageURI(b.scheme(entity, action), key),
		Mimetype:       action.Mimetype,
		Target:         target,
	}, nil
}

func (b *JobBuilder) scheme(entity Entity, action *ActionConfig) string {
	if schema, ok := entity.(FieldSchema); ok {
		if def, ok := schema.FieldDefinition(action.DestinationField); ok && def.URIScheme != "" {
			return def.URIScheme
		}
	}
	if action.Scheme != "" {
		return action.Scheme
	}
	return b.DefaultScheme
}
