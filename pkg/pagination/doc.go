// Package pagination aggregates DRF cursor-paginated list endpoints.
//
// DRF list responses carry {count, next, previous, results}. A walk fetches
// the first page, appends its results and follows next until it is null.
// Pages are fetched strictly one after another; next links are absolute and
// are requested verbatim, without the base URL or the caller's params.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig("https://api.example.com/api"))
//	posts, err := pagination.WalkAll[Post](ctx, c, "/blog/posts/", map[string]any{"page_size": 50})
//
// The walker:
//   - Stops without error on a page that has no results array
//   - Fails the whole walk on any fetch or decode error (no partial data)
//   - Detects next links that revisit a URL
//   - Optionally caps the number of pages (Config.MaxPages)
//
// Iterate streams page results to a callback instead of aggregating them.
package pagination
