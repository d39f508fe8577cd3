package derivative

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Path template tokens.
const (
	TokenYear  = "{year}"
	TokenMonth = "{month}"
	TokenDay   = "{day}"
	TokenID    = "{id}"
)

var pathTokenRe = regexp.MustCompile(`\{[^{}]*\}`)

// PathTemplate is a destination path such as "{year}-{month}/{id}.bin".
// Only the fixed token set is expanded; anything else is rejected when the
// template is validated.
type PathTemplate string

// Validate rejects templates with tokens outside the known set.
func (t PathTemplate) Validate() error {
	for _, tok := range pathTokenRe.FindAllString(string(t), -1) {
		switch tok {
		case TokenYear, TokenMonth, TokenDay, TokenID:
		default:
			return fmt.Errorf("%w: %s", ErrUnknownPathToken, tok)
		}
	}
	return nil
}

// Expand substitutes the date and entity id tokens.
func (t PathTemplate) Expand(now time.Time, id uuid.UUID) string {
	r := strings.NewReplacer(
		TokenYear, now.Format("2006"),
		TokenMonth, now.Format("01"),
		TokenDay, now.Format("02"),
		TokenID, id.String(),
	)
	return r.Replace(strings.Trim(string(t), "/"))
}

// StorageURI joins a scheme and key into "scheme://key".
func StorageURI(scheme, key string) string {
	return scheme + "://" + strings.TrimLeft(key, "/")
}

// SplitStorageURI splits "scheme://key". When s carries no scheme the
// default scheme is returned with the whole string as key.
func SplitStorageURI(s, defaultScheme string) (scheme, key string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", ErrInvalidContentLocation
	}
	if i := strings.Index(s, "://"); i >= 0 {
		scheme, key = s[:i], s[i+3:]
	} else {
		scheme, key = defaultScheme, s
	}
	key = strings.TrimLeft(key, "/")
	if scheme == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidContentLocation, s)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidContentLocation, s)
		}
	}
	return scheme, key, nil
}

// dirname returns the directory part of a storage key, "" at the root.
func dirname(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i]
	}
	return ""
}

// basename returns the last segment of a storage key.
func basename(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}
