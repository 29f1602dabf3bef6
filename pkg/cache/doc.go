// Package cache provides a keyed, de-duplicating result cache for API reads.
//
// A Binding maps caller-chosen keys to observable results. The first Run for
// a key starts its producer; concurrent Runs for the same key attach to that
// execution instead of starting another one, and later Runs return the
// settled result without calling the producer again until the key is
// refreshed or invalidated.
//
// # Basic Usage
//
//	binding := cache.NewBinding(cache.DefaultConfig())
//	defer binding.Close()
//
//	res := cache.Run(ctx, binding, "blog-posts", func(ctx context.Context) ([]Post, error) {
//		return fetchPosts(ctx)
//	})
//
//	posts, err := res.Wait(ctx)
//	if err != nil {
//		// res.State() == cache.StateErrored, res.Err() holds the error
//	}
//
// # States
//
// A result moves from pending to resolved or errored. An errored result keeps
// its error until Refresh or Invalidate; it is reported through Err and Wait,
// never raised into other observers. Subscribe delivers transitions to UI
// style observers.
//
// # Second-Level Store
//
// A Store (RedisStore) can back a binding so that several processes share
// resolved values:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	binding := cache.NewBinding(cache.Config{
//		Store:    cache.NewRedisStore(redisClient),
//		StoreTTL: 10 * time.Minute,
//	})
//
// Store failures are logged and counted, never returned to callers.
//
// # Metrics
//
//   - drf_cache_hits_total{layer} - Hits in memory or in the store
//   - drf_cache_misses_total - New producer executions
//   - drf_cache_joins_total - Calls de-duplicated onto an in-flight execution
//   - drf_cache_producer_errors_total - Failed executions
//   - drf_cache_entries - Cached keys
//   - drf_cache_store_errors_total{operation} - Store errors
package cache
