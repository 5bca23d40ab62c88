// Package cache stores HTTP responses of cacheable GET requests in Redis.
//
// Entries keep the response body together with its validators (ETag and
// Last-Modified) so the network client can revalidate them with a
// conditional request and serve the stored body on 304 Not Modified.
//
// Freshness is derived from the response headers:
//
//   - Cache-Control: no-store or no-cache disables storing
//   - Cache-Control: max-age=N wins over Expires
//   - Expires is used when max-age is absent
//   - otherwise DefaultTTL applies
//
// # Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key, err := cache.NewKey(http.MethodGet, "https://api.example.com/items?page=2")
//	if err != nil {
//		return err
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the network, then:
//		if entry, ok := cache.NewEntry(resp.StatusCode, resp.Header, body); ok {
//			_ = manager.Set(ctx, key, entry)
//		}
//	}
//
// # Metrics
//
//   - vrequest_cache_hits_total
//   - vrequest_cache_misses_total
//   - vrequest_cache_size_bytes
//   - vrequest_cache_not_modified_total
//   - vrequest_cache_errors_total{operation}
package cache
