package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Resolver maps a cache key to the absolute URL the worker navigates to.
type Resolver func(key string) (string, error)

// ErrBadKey is returned for keys that are not origin-relative paths.
var ErrBadKey = errors.New("key is not an origin-relative path")

/*
UpstreamResolver resolves keys against a fixed origin: "/blog?p=2" becomes
"https://origin.example/blog?p=2".

Keys that would escape the origin ("//other.host/x", "http://x") are rejected.
*/
func UpstreamResolver(origin string) (Resolver, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute http(s) URL", origin)
	}
	base := strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/")

	return func(key string) (string, error) {
		if !strings.HasPrefix(key, "/") || strings.HasPrefix(key, "//") {
			return "", fmt.Errorf("%w: %q", ErrBadKey, key)
		}
		ref, err := url.Parse(key)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		if ref.Scheme != "" || ref.Host != "" {
			return "", fmt.Errorf("%w: %q", ErrBadKey, key)
		}
		return base + key, nil
	}, nil
}
