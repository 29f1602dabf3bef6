package api

import (
	"context"

	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/pagination"
)

// Endpoint is a list endpoint with the params every call sends unless the
// caller overrides them.
type Endpoint struct {
	Path          string
	DefaultParams map[string]any
}

// Params merges overrides over the endpoint defaults. A nil override
// removes a default.
func (e Endpoint) Params(overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(e.DefaultParams)+len(overrides))
	for k, v := range e.DefaultParams {
		merged[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// ListAll is FetchAllPages for an endpoint with defaults applied.
func ListAll[T any](ctx context.Context, c *Client, e Endpoint, key string, overrides map[string]any) *cache.Result[*pagination.Aggregated[T]] {
	return FetchAllPages[T](ctx, c, key, e.Path, e.Params(overrides))
}

// First is FetchFirst for an endpoint with defaults applied, e.g. a lookup
// by slug on a list endpoint.
func First[T any](ctx context.Context, c *Client, e Endpoint, overrides map[string]any) (T, bool, error) {
	return FetchFirst[T](ctx, c, e.Path, e.Params(overrides))
}
