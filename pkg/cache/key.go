package cache

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/drf-client/pkg/request"
)

// Key identifies a cached result.
type Key struct {
	// Endpoint is the API path (e.g. "/blog/posts/")
	Endpoint string

	// Params are the query parameters of the first request
	Params url.Values

	// Locale is the canonical locale tag the request is made with
	Locale string
}

// NewKey builds a key from request-style params.
func NewKey(endpoint string, params map[string]any, locale string) Key {
	return Key{
		Endpoint: endpoint,
		Params:   request.Values(params),
		Locale:   locale,
	}
}

// String generates a deterministic cache key string.
// Format: drf:endpoint:param1=val1:param2=val2a,val2b:lang=xx-yy
//
// Example:
//
//	drf:blog/posts:ordering=-published_at:page_size=10:lang=pt-br
func (k Key) String() string {
	parts := []string{"drf"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, key+"="+strings.Join(k.Params[key], ","))
		}
	}

	if k.Locale != "" {
		parts = append(parts, "lang="+k.Locale)
	}

	return strings.Join(parts, ":")
}
