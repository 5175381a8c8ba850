package routepolicy

import (
	"fmt"

	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
)

// RateClass groups routes that share a rate limit.
type RateClass string

const (
	ClassAuth    RateClass = "auth"
	ClassAPI     RateClass = "api"
	ClassPublic  RateClass = "public"
	ClassWebhook RateClass = "webhook" // exempt
)

// DefaultClasses are the limits applied to each class.
var DefaultClasses = map[RateClass]ratelimiter.Config{
	ClassAuth:   ratelimiter.PerMinute(10),
	ClassAPI:    ratelimiter.PerMinute(60),
	ClassPublic: ratelimiter.PerHour(100),
}

// NewLimiters builds one bucket per class in classes on top of store.
func NewLimiters(store ratelimiter.Store, classes map[RateClass]ratelimiter.Config) (map[RateClass]*ratelimiter.Bucket, error) {
	out := make(map[RateClass]*ratelimiter.Bucket, len(classes))
	for class, cfg := range classes {
		b, err := ratelimiter.NewBucket(store, cfg)
		if err != nil {
			return nil, fmt.Errorf("rate class %s: %w", class, err)
		}
		out[class] = b
	}
	return out, nil
}
