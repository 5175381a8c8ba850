// Package ratelimiter admits or rejects requests with a token bucket per key.
//
// A Bucket holds the limit configuration and delegates state to a Store:
// MemoryStore for a single process, RedisStore when several replicas must
// share one budget per caller. Bucket state is updated atomically in both.
//
//	limiter, _ := ratelimiter.NewBucket(store, ratelimiter.PerMinute(60))
//	res, err := limiter.Allow(ctx, "user:"+userID)
//	if err == nil && !res.Allowed() {
//		ratelimiter.WriteLimited(w, res)
//	}
package ratelimiter
