package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinPath appends path segments to base, keeping the base's own path and
// any query untouched. A trailing slash on the last segment is preserved.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := ParseAbsolute(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(append([]string{"/", u.Path}, paths...)...)
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// ParseAbsolute parses raw and requires a scheme and host
func ParseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", raw)
	}
	return u, nil
}

// LocalReturnPath returns p when it is a same-origin absolute path and "/"
// otherwise. Paths starting with "//" or "/\" are rejected since browsers
// treat them as protocol-relative URLs.
func LocalReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "/"
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, `/\`) {
		return "/"
	}
	if strings.ContainsAny(p, "\r\n") {
		return "/"
	}
	return p
}

// WithQuery returns base with the given query parameters merged in
func WithQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
