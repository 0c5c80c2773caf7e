package mirror

import (
	"net/url"
	"strings"
)

// RelativePath strips the origin mirror's base path prefix from the request
// path, yielding the canonical route path. A result of "/" means the mirror
// root.
func RelativePath(u *url.URL, base *url.URL) string {
	basePath := strings.TrimSuffix(base.Path, "/")

	p := u.Path
	if basePath != "" && strings.HasPrefix(p, basePath) {
		p = p[len(basePath):]
	}

	if p == "" {
		return "/"
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

// CombinePaths re-prepends a mirror's base path to a canonical route path.
func CombinePaths(basePath, rel string) string {
	basePath = strings.TrimSuffix(basePath, "/")

	if rel == "" || rel == "/" {
		if basePath == "" {
			return "/"
		}

		return basePath
	}

	return basePath + "/" + strings.TrimPrefix(rel, "/")
}

// RewriteURL replays a request URL understood relative to the origin mirror
// against the destination mirror, preserving query string and fragment.
func RewriteURL(u *url.URL, origin, dest Target) *url.URL {
	out := *u
	out.Scheme = dest.BaseURL.Scheme
	out.Host = dest.BaseURL.Host
	out.Path = CombinePaths(dest.BaseURL.Path, RelativePath(u, origin.BaseURL))

	return &out
}
