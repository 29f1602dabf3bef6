// Package request composes outbound API requests: base URL, locale header,
// default and caller query parameters, and caller header overrides.
//
// Composition is pure. It performs no I/O, so every precedence rule can be
// tested without a server.
package request

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/drf-client/pkg/locale"
)

// ErrInvalidEndpoint is returned when an endpoint is empty or unparseable.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Header names set by the composer.
const (
	HeaderAcceptLanguage = "Accept-Language"
	HeaderAccept         = "Accept"
	HeaderContentType    = "Content-Type"
)

// Options are per-call overrides supplied by a call site.
type Options struct {
	// Headers are merged over the defaults; caller values win per key.
	// An empty value removes the header.
	Headers map[string]string

	// Params are merged over the default params; caller values win per key.
	// A nil value removes the key.
	Params map[string]any

	// Method defaults to GET.
	Method string

	// Body is JSON-encoded when the request is sent.
	Body any

	// BaseURLOverride replaces the configured base URL for relative paths.
	BaseURLOverride string
}

// BaseOptions are the defaults an endpoint is composed with.
type BaseOptions struct {
	// BaseURL is the configured API base URL.
	BaseURL string

	// Params are default query parameters for the endpoint.
	Params map[string]any

	// Headers are default headers applied under the caller's headers.
	Headers map[string]string
}

// Spec is a fully composed request. Treat it as read-only; use Clone to
// derive a modified copy.
type Spec struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   any

	// Absolute is true when the endpoint was already a complete URL and
	// neither the base URL nor any params were applied.
	Absolute bool
}

// String returns the method and URL.
func (s *Spec) String() string {
	return s.Method + " " + s.URL.String()
}

// Query returns a copy of the composed query parameters.
func (s *Spec) Query() url.Values {
	return s.URL.Query()
}

// Clone returns a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	u := *s.URL
	return &Spec{
		Method:   s.Method,
		URL:      &u,
		Header:   s.Header.Clone(),
		Body:     s.Body,
		Absolute: s.Absolute,
	}
}

// IsAbsolute reports whether endpoint is a complete URL with a scheme,
// such as the next link of a paginated response.
func IsAbsolute(endpoint string) bool {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// SameHost reports whether the absolute URL endpoint has the scheme and
// host of base.
func SameHost(endpoint, base string) bool {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || !u.IsAbs() {
		return false
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, b.Scheme) && strings.EqualFold(u.Host, b.Host)
}

// Compose builds the final request for endpoint.
//
// Header precedence, lowest first: Accept, Accept-Language (loc), base
// headers, caller headers. Query precedence: base params, then caller params.
// Absolute endpoints skip the base URL and all params; their own query
// string is kept verbatim.
func Compose(endpoint string, base BaseOptions, opts Options, loc locale.Tag) (*Spec, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidEndpoint)
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpoint, err)
	}

	spec := &Spec{
		Method: strings.ToUpper(opts.Method),
		Body:   opts.Body,
		Header: composeHeaders(base.Headers, opts.Headers, loc),
	}
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}

	if target.IsAbs() {
		if target.Host == "" {
			return nil, fmt.Errorf("%w: %q has no host", ErrInvalidEndpoint, endpoint)
		}
		spec.URL = target
		spec.Absolute = true
		return spec, nil
	}
	if target.Host != "" {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidEndpoint, endpoint)
	}

	baseURL := base.BaseURL
	if opts.BaseURLOverride != "" {
		baseURL = opts.BaseURLOverride
	}

	u, err := joinURL(baseURL, target)
	if err != nil {
		return nil, err
	}

	query := u.Query()
	applyParams(query, base.Params)
	applyParams(query, opts.Params)
	u.RawQuery = query.Encode()

	spec.URL = u
	return spec, nil
}

func composeHeaders(base, caller map[string]string, loc locale.Tag) http.Header {
	h := http.Header{}
	h.Set(HeaderAccept, "application/json")
	if loc != "" {
		h.Set(HeaderAcceptLanguage, string(loc))
	}

	for _, layer := range []map[string]string{base, caller} {
		for k, v := range layer {
			if v == "" {
				h.Del(k)
				continue
			}
			h.Set(k, v)
		}
	}
	return h
}

// joinURL resolves a relative target against baseURL, keeping any path
// prefix on the base and exactly one slash at the seam.
func joinURL(baseURL string, target *url.URL) (*url.URL, error) {
	if baseURL == "" {
		u := *target
		return &u, nil
	}

	b, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url %q: %v", ErrInvalidEndpoint, baseURL, err)
	}

	u := *b
	u.Path = strings.TrimRight(b.Path, "/") + "/" + strings.TrimLeft(target.Path, "/")
	u.RawPath = ""
	u.RawQuery = target.RawQuery
	u.Fragment = ""
	return &u, nil
}

// Values converts params to query values with the same rules Compose uses.
func Values(params map[string]any) url.Values {
	q := url.Values{}
	applyParams(q, params)
	return q
}

func applyParams(q url.Values, params map[string]any) {
	for k, v := range params {
		if v == nil {
			q.Del(k)
			continue
		}
		q[k] = paramValues(v)
	}
}

func paramValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case fmt.Stringer:
		return []string{val.String()}
	default:
		return []string{fmt.Sprint(val)}
	}
}
