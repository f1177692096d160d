package rewriter

import (
	"net/url"
	"strings"
)

// ProxyTarget describes how an absolute URL is wrapped into a client-facing
// proxy URL. An empty Base means passthrough.
type ProxyTarget struct {
	Base   string
	Encode bool
}

// Wrap returns the proxy URL for absURL. URLs already behind Base are
// returned unchanged, so wrapping twice is a no-op.
func (p ProxyTarget) Wrap(absURL string) string {
	if p.Base == "" || strings.HasPrefix(absURL, p.Base) {
		return absURL
	}
	if p.Encode {
		return p.Base + url.QueryEscape(absURL)
	}
	return p.Base + absURL
}

// IsAbsolute reports whether ref carries an http or https scheme.
func IsAbsolute(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Resolve makes ref absolute against base. Absolute refs are returned as is.
// If base cannot be parsed the result is built by slicing base on its last
// slash; Resolve never fails.
func Resolve(base, ref string) string {
	if IsAbsolute(ref) {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return naiveResolve(base, ref)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return naiveResolve(base, ref)
	}
	return b.ResolveReference(r).String()
}

func naiveResolve(base, ref string) string {
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		if i := strings.Index(base, "://"); i >= 0 {
			if j := strings.IndexByte(base[i+3:], '/'); j >= 0 {
				return base[:i+3+j] + ref
			}
			return base + ref
		}
	}
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		return base[:i+1] + ref
	}
	return ref
}
