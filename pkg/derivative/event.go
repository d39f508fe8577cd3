package derivative

import (
	"strings"
)

// Media types of event links.
const (
	mediaTypeHTML   = "text/html"
	mediaTypeJSON   = "application/json"
	mediaTypeJSONLD = "application/ld+json"
)

// EventBuilder builds Activity Streams events for content mutations.
type EventBuilder struct {
	Resolver URLResolver
	// Target is the root URL of the binary store, copied into every event.
	Target string
}

// Build describes what happened to entity. The event type is read from
// data["event"]; "event" and "queue" never reach the attachment. Build
// does not fail: missing optional data only drops the matching links.
func (b *EventBuilder) Build(entity Entity, user *User, data map[string]any) *EventDescriptor {
	content := make(map[string]any, len(data))
	for k, v := range data {
		content[k] = v
	}
	name, _ := content[JobKeyEvent].(string)
	delete(content, JobKeyEvent)
	delete(content, JobKeyQueue)

	eventType, err := ParseEventType(name)
	if err != nil {
		eventType = EventType(ucfirst(name))
	}

	ev := &EventDescriptor{
		Context: ActivityStreamsContext,
		Target:  b.Target,
		Event:   eventType,
	}
	if eventType == EventGenerateDerivative {
		ev.Type = "Activity"
		ev.Summary = string(eventType)
	} else {
		ev.Type = string(eventType)
		ev.Summary = string(eventType) + " a " + ucfirst(string(entity.Kind()))
		isNew := false
		if rv, ok := entity.(Revisionable); ok {
			isNew = rv.RevisionCount() > 1
		}
		ev.Object.IsNewVersion = &isNew
	}

	if user != nil {
		ev.Actor = Actor{
			Type: "Person",
			ID:   URN(user.ID),
			Name: user.Name,
			URL: []Link{{
				Name:      "Canonical",
				Type:      "Link",
				Href:      b.Resolver.EntityURL(user),
				MediaType: mediaTypeHTML,
				Rel:       "canonical",
			}},
		}
	}

	ev.Object.ID = URN(entity.EntityID())
	canonical := Link{Name: "Canonical", Type: "Link", Rel: "canonical"}
	if f, ok := entity.(*File); ok {
		canonical.Href = b.Resolver.DownloadURL(f)
		canonical.MediaType = f.MimeType
		ev.Object.URL = []Link{canonical}
	} else {
		canonical.Href = b.Resolver.EntityURL(entity)
		canonical.MediaType = mediaTypeHTML
		ev.Object.URL = []Link{
			canonical,
			{Name: "JSON", Type: "Link", Href: b.Resolver.RestURL(entity, FormatJSON), MediaType: mediaTypeJSON, Rel: "alternate"},
			{Name: "JSONLD", Type: "Link", Href: b.Resolver.RestURL(entity, FormatJSONLD), MediaType: mediaTypeJSONLD, Rel: "alternate"},
		}
	}

	if src, ok := entity.(HasSourceArtifact); ok {
		if f, ok := src.SourceArtifact(); ok {
			ev.Object.URL = append(ev.Object.URL, Link{
				Name:      "Describes",
				Type:      "Link",
				Href:      b.Resolver.DownloadURL(f),
				MediaType: f.MimeType,
				Rel:       "describes",
			})
		}
	}

	if len(content) > 0 {
		ev.Attachment = &Attachment{
			Type:      "Object",
			Content:   content,
			MediaType: mediaTypeJSON,
		}
	}
	return ev
}

func ucfirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
