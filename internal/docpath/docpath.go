// Package docpath maps document identifiers to file paths and public URLs.
package docpath

import (
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/issuer"
)

const (
	DefaultMediaURL = "/media/"
	DefaultScheme   = "https"
	Extension       = ".pdf"
)

// Resolver is pure: it never touches the filesystem.
type Resolver struct {
	Root     string
	MediaURL string
}

// New returns a Resolver with MediaURL normalized to start and end with "/".
func New(root, mediaURL string) Resolver {
	return Resolver{Root: root, MediaURL: NormalizeMediaURL(mediaURL)}
}

// NormalizeMediaURL defaults an empty prefix and adds the leading and
// trailing slashes.
func NormalizeMediaURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return DefaultMediaURL
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// FileName returns "{id}.pdf".
func FileName(id issuer.Identifier) string {
	return id.String() + Extension
}

// Path returns {Root}/{id}.pdf.
func (r Resolver) Path(id issuer.Identifier) string {
	return filepath.Join(r.Root, FileName(id))
}

type urlOptions struct {
	host   string
	scheme string
}

// URLOption makes URL absolute.
type URLOption func(*urlOptions)

// WithHost makes the URL absolute for host (optionally with a port).
func WithHost(host string) URLOption {
	return func(o *urlOptions) { o.host = strings.TrimSuffix(strings.TrimSpace(host), "/") }
}

// WithScheme overrides the default https scheme of absolute URLs.
func WithScheme(scheme string) URLOption {
	return func(o *urlOptions) { o.scheme = strings.TrimSuffix(scheme, "://") }
}

// URL returns {MediaURL}{id}.pdf, or {scheme}://{host}{MediaURL}{id}.pdf when a
// host is given.
func (r Resolver) URL(id issuer.Identifier, opts ...URLOption) string {
	o := urlOptions{scheme: DefaultScheme}
	for _, opt := range opts {
		opt(&o)
	}
	rel := NormalizeMediaURL(r.MediaURL) + FileName(id)
	if o.host == "" {
		return rel
	}
	if o.scheme == "" {
		o.scheme = DefaultScheme
	}
	return o.scheme + "://" + o.host + rel
}

// ParseFileName extracts the identifier from a "{id}.pdf" name.
func ParseFileName(name string) (issuer.Identifier, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), Extension)
	if !ok {
		return issuer.Identifier{}, false
	}
	id, err := issuer.ParseIdentifier(base)
	if err != nil {
		return issuer.Identifier{}, false
	}
	return id, true
}
