// Package api is the entry point used by application code: single typed
// fetches, cached whole-list reads of paginated endpoints and keyed cached
// fetches, all sharing one HTTP client and one result cache.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/client"
	"github.com/Sternrassler/drf-client/pkg/pagination"
	"github.com/Sternrassler/drf-client/pkg/request"
)

// Config holds the facade configuration.
type Config struct {
	Client     client.Config
	Cache      cache.Config
	Pagination pagination.Config

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration for baseURL with library defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		Client:     client.DefaultConfig(baseURL),
		Cache:      cache.DefaultConfig(),
		Pagination: pagination.DefaultConfig(),
	}
}

// Client bundles the HTTP client, the result cache and walker settings.
type Client struct {
	http   *client.Client
	cache  *cache.Binding
	pages  pagination.Config
	logger zerolog.Logger
}

// New creates a facade with its own HTTP client and cache binding.
func New(cfg Config) (*Client, error) {
	logger := log.With().Str("component", "api").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
		if cfg.Client.Logger == nil {
			cfg.Client.Logger = cfg.Logger
		}
		if cfg.Cache.Logger == nil {
			cfg.Cache.Logger = cfg.Logger
		}
		if cfg.Pagination.Logger == nil {
			cfg.Pagination.Logger = cfg.Logger
		}
	}
	if cfg.Pagination.BaseURL == "" {
		cfg.Pagination.BaseURL = cfg.Client.BaseURL
	}

	hc, err := client.New(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	return &Client{
		http:   hc,
		cache:  cache.NewBinding(cfg.Cache),
		pages:  cfg.Pagination,
		logger: logger,
	}, nil
}

// NewWithDeps creates a facade over existing components.
func NewWithDeps(hc *client.Client, binding *cache.Binding, pages pagination.Config) *Client {
	return &Client{
		http:   hc,
		cache:  binding,
		pages:  pages,
		logger: log.With().Str("component", "api").Logger(),
	}
}

// HTTP returns the underlying HTTP client.
func (c *Client) HTTP() *client.Client {
	return c.http
}

// Cache returns the result cache.
func (c *Client) Cache() *cache.Binding {
	return c.cache
}

// WithLocale returns a facade for another locale sharing the cache.
// Caller-supplied cache keys must then distinguish locales; Key does.
func (c *Client) WithLocale(raw any) *Client {
	cp := *c
	cp.http = c.http.WithLocale(raw)
	return &cp
}

// Key derives a cache key from endpoint, params and the facade's locale.
func (c *Client) Key(endpoint string, params map[string]any) string {
	return cache.NewKey(endpoint, params, string(c.http.Locale())).String()
}

// Key namespaces of derived keys, one per fetch kind, so a single read and
// a whole-list read of one endpoint never share an entry.
const (
	pagesKeyPrefix = "pages|"
	oneKeyPrefix   = "one|"
)

// PagesKey is the key FetchAllPages derives when given an empty key.
func (c *Client) PagesKey(endpoint string, params map[string]any) string {
	return pagesKeyPrefix + c.Key(endpoint, params)
}

// OneKey is the key FetchCached derives when given an empty key. Requests
// with a body are told apart by a hash of its JSON encoding.
func (c *Client) OneKey(endpoint string, opts request.Options) string {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	key := oneKeyPrefix + method + "|" + c.Key(endpoint, opts.Params)
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			data = []byte(fmt.Sprintf("%#v", opts.Body))
		}
		key += fmt.Sprintf("|body=%016x", xxhash.Sum64(data))
	}
	return key
}

// Close cancels pending cached executions and releases connections.
func (c *Client) Close() error {
	if err := c.cache.Close(); err != nil {
		return err
	}
	return c.http.Close()
}

// FetchOne issues a single request and decodes the JSON body into T.
func FetchOne[T any](ctx context.Context, c *Client, endpoint string, opts request.Options) (T, error) {
	var zero T

	spec, err := c.http.Compose(endpoint, request.BaseOptions{}, opts)
	if err != nil {
		return zero, err
	}

	return client.FetchInto[T](ctx, c.http, spec)
}

// FetchCached is FetchOne behind the result cache: concurrent and later
// calls with the same key share one request until the key is refreshed or
// invalidated. An empty key is derived by OneKey.
func FetchCached[T any](ctx context.Context, c *Client, key, endpoint string, opts request.Options) *cache.Result[T] {
	if key == "" {
		key = c.OneKey(endpoint, opts)
	}

	return cache.Run(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return FetchOne[T](ctx, c, endpoint, opts)
	})
}

// FetchAllPages returns the cached aggregate of every page of endpoint.
// While pending or errored the result reports an empty aggregate; a failure
// on any page leaves the entry errored with no partial aggregate. An empty
// key is derived by PagesKey.
func FetchAllPages[T any](ctx context.Context, c *Client, key, endpoint string, params map[string]any) *cache.Result[*pagination.Aggregated[T]] {
	if key == "" {
		key = c.PagesKey(endpoint, params)
	}

	walker := pagination.NewWalker(c.http, c.pages)
	return cache.RunWithDefault(ctx, c.cache, key, pagination.Empty[T](), func(ctx context.Context) (*pagination.Aggregated[T], error) {
		c.logger.Debug().Str("key", key).Str("endpoint", endpoint).Msg("Walking paginated endpoint")
		return pagination.Walk[T](ctx, walker, endpoint, params)
	})
}

// WalkAll aggregates every page of endpoint without caching.
func WalkAll[T any](ctx context.Context, c *Client, endpoint string, params map[string]any) (*pagination.Aggregated[T], error) {
	return pagination.Walk[T](ctx, pagination.NewWalker(c.http, c.pages), endpoint, params)
}

// FetchFirst fetches a single page of endpoint and returns its first
// result. ok is false when the page has no results.
func FetchFirst[T any](ctx context.Context, c *Client, endpoint string, params map[string]any) (item T, ok bool, err error) {
	page, err := FetchOne[pagination.Page[T]](ctx, c, endpoint, request.Options{Params: params})
	if err != nil {
		return item, false, err
	}
	if len(page.Results) == 0 {
		return item, false, nil
	}
	return page.Results[0], true, nil
}
