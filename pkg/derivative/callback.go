package derivative

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// CallbackPrefix is the route prefix of the callback endpoint.
const CallbackPrefix = "/attach/media"

// CallbackTarget is the media and fields a callback is allowed to write.
type CallbackTarget struct {
	EntityID  uuid.UUID
	Field     string
	TextField string
}

// Fields returns the non-empty destination field names.
func (t CallbackTarget) Fields() []string {
	fields := []string{t.Field}
	if t.TextField != "" {
		fields = append(fields, t.TextField)
	}
	return fields
}

// Path returns the callback route for the target:
// /attach/media/{id}/{destination_field}[/{destination_text_field}].
func (t CallbackTarget) Path() string {
	p := fmt.Sprintf("%s/%s/%s", CallbackPrefix, t.EntityID, url.PathEscape(t.Field))
	if t.TextField != "" {
		p += "/" + url.PathEscape(t.TextField)
	}
	return p
}

// ParseCallbackPath decodes a callback route, or the path of an absolute
// callback URL, back into its target.
func ParseCallbackPath(p string) (CallbackTarget, error) {
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	i := strings.Index(p, CallbackPrefix+"/")
	if i < 0 {
		return CallbackTarget{}, fmt.Errorf("%w: %q", ErrInvalidCallbackPath, p)
	}
	parts := strings.Split(strings.Trim(p[i+len(CallbackPrefix):], "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return CallbackTarget{}, fmt.Errorf("%w: %q", ErrInvalidCallbackPath, p)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return CallbackTarget{}, fmt.Errorf("%w: %v", ErrInvalidCallbackPath, err)
	}
	t := CallbackTarget{EntityID: id}
	if t.Field, err = url.PathUnescape(parts[1]); err != nil || t.Field == "" {
		return CallbackTarget{}, fmt.Errorf("%w: bad destination field", ErrInvalidCallbackPath)
	}
	if len(parts) == 3 {
		if t.TextField, err = url.PathUnescape(parts[2]); err != nil {
			return CallbackTarget{}, fmt.Errorf("%w: bad destination text field", ErrInvalidCallbackPath)
		}
	}
	return t, nil
}
