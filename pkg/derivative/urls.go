package derivative

import (
	"fmt"
	"net/url"
	"strings"
)

// Representation formats served besides the canonical page.
const (
	FormatJSON   = "json"
	FormatJSONLD = "jsonld"
)

type urlResolver struct {
	baseURL     string
	publicBases map[string]string
}

// NewURLResolver returns the default resolver. Entities resolve to
// {base}/{kind}/{id}; files resolve through publicBases[scheme] when one is
// configured for their scheme and to {base}/_flysystem/{scheme}/{key}
// otherwise.
func NewURLResolver(baseURL string, publicBases map[string]string) URLResolver {
	bases := make(map[string]string, len(publicBases))
	for scheme, base := range publicBases {
		bases[scheme] = strings.TrimRight(base, "/")
	}
	return &urlResolver{
		baseURL:     strings.TrimRight(baseURL, "/"),
		publicBases: bases,
	}
}

func (r *urlResolver) EntityURL(entity Entity) string {
	if f, ok := entity.(*File); ok {
		return r.DownloadURL(f)
	}
	return fmt.Sprintf("%s/%s/%s", r.baseURL, entity.Kind(), entity.EntityID())
}

func (r *urlResolver) RestURL(entity Entity, format string) string {
	return r.EntityURL(entity) + "?_format=" + url.QueryEscape(format)
}

func (r *urlResolver) DownloadURL(file *File) string {
	scheme, key, err := SplitStorageURI(file.URI, "")
	if err != nil {
		return file.URI
	}
	if base, ok := r.publicBases[scheme]; ok {
		return base + "/" + escapeKey(key)
	}
	return fmt.Sprintf("%s/_flysystem/%s/%s", r.baseURL, scheme, escapeKey(key))
}

func (r *urlResolver) CallbackURL(target CallbackTarget) string {
	return r.baseURL + target.Path()
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
