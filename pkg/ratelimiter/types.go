package ratelimiter

import (
	"math"
	"time"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Limit     int
	Remaining int // negative when the request was rejected
	ResetAt   time.Time
}

func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next attempt, rounded up to
// whole seconds, or 0 if the request was allowed.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed() {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Config defines a token bucket.
type Config struct {
	Capacity       int           // burst size
	RefillRate     int           // tokens added per interval
	RefillInterval time.Duration // refill period
}

// PerMinute allows n requests per minute with a burst of n.
func PerMinute(n int) Config {
	return Config{Capacity: n, RefillRate: n, RefillInterval: time.Minute}
}

// PerHour allows n requests per hour with a burst of n.
func PerHour(n int) Config {
	return Config{Capacity: n, RefillRate: n, RefillInterval: time.Hour}
}

// PerSecond allows n requests per second with a burst of n.
func PerSecond(n int) Config {
	return Config{Capacity: n, RefillRate: n, RefillInterval: time.Second}
}
