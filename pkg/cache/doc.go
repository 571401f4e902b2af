// Package cache provides a Redis-backed response cache for the read API.
//
// Responses are stored per project and invalidated as a group whenever new
// data is persisted for that project (after an activity run or an inventory
// sync). Entries also expire after a short TTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 30*time.Second)
//
//	key := cache.CacheKey{
//		Project:     "2228",
//		Endpoint:    "devices",
//		QueryParams: url.Values{"page": []string{"2"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// build the response, then manager.Set(ctx, key, entry)
//	}
//
//	// after new data lands
//	manager.InvalidateProject(ctx, "2228")
//
// # HTTP Middleware
//
// Handler wraps a GET handler: hits are served from Redis with an
// "X-Cache: HIT" header, misses are recorded and stored when the status is
// 200. Every cached response carries a strong ETag; a matching
// If-None-Match is answered with 304 Not Modified.
//
// # Metrics
//
//   - fleet_cache_hits_total{layer="redis"} - Cache hits
//   - fleet_cache_misses_total - Cache misses
//   - fleet_cache_size_bytes{layer="redis"} - Bytes written
//   - fleet_cache_not_modified_total - 304 responses served
//   - fleet_cache_invalidations_total - Keys removed by project invalidation
//   - fleet_cache_errors_total{operation} - Cache operation errors
package cache
