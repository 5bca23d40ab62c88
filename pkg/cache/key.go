package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a stored response by method and URL.
type Key struct {
	Method string
	Host   string
	Path   string
	Query  url.Values
}

// NewKey builds a Key from a method and a raw URL.
func NewKey(method, rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("parse cache url: %w", err)
	}
	return Key{
		Method: method,
		Host:   u.Host,
		Path:   u.Path,
		Query:  u.Query(),
	}, nil
}

// String generates a deterministic key string.
// Format: vrequest:METHOD:host/path:q1=v1:q2=v2a,v2b
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts := []string{"vrequest", method}

	target := strings.ToLower(k.Host) + "/" + strings.Trim(k.Path, "/")
	parts = append(parts, strings.TrimSuffix(target, "/"))

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}
