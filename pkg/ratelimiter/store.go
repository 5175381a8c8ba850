package ratelimiter

import (
	"context"
	"time"
)

// Store keeps bucket state.
type Store interface {
	// ConsumeTokens refills the bucket for key and takes tokens from it when
	// enough are available. remaining is negative when they were not, and in
	// that case nothing is consumed.
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)

	// Reset clears the state for key.
	Reset(ctx context.Context, key string) error
}

// refill returns the token count and refill anchor after applying the
// intervals elapsed since last.
func refill(tokens int, last, now time.Time, config Config) (int, time.Time) {
	elapsed := now.Sub(last)
	if elapsed < config.RefillInterval {
		return tokens, last
	}
	maxIntervals := int64(config.Capacity/config.RefillRate + 1)
	intervals := min(int64(elapsed/config.RefillInterval), maxIntervals)
	tokens = min(tokens+int(intervals)*config.RefillRate, config.Capacity)
	return tokens, now
}
