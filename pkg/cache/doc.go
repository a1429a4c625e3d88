// Package cache stores successful upstream responses in Redis so repeated
// queries within their freshness window skip the throttle entirely.
//
// Entries are keyed by request URL with the crumb parameter removed, so a
// fresh crumb does not invalidate everything cached under the previous one.
// The lifetime of an entry is the response's Expires header when that lies
// in the future, otherwise a caller-supplied fallback TTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(redisClient)
//
//	key, err := cache.KeyFromURL("https://query1.finance.yahoo.com/v7/finance/quote?symbols=AAPL&crumb=x")
//	if err != nil {
//		return err
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch upstream and read body, then:
//		entry = cache.NewEntry(body, resp.StatusCode, resp.Header, 5*time.Minute)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - yf_cache_hits_total{layer="redis"} - Cache hits
//   - yf_cache_misses_total - Cache misses
//   - yf_cache_size_bytes{layer="redis"} - Bytes written to the cache
//   - yf_cache_errors_total{operation} - Cache operation errors
package cache
