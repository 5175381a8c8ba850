// Package redis connects to Redis through github.com/redis/go-redis/v9 and
// exposes a readiness check. The returned client is shared by the response
// cache and the rate limiter store.
package redis
