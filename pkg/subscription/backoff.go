package subscription

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff calculates retry delays. Implementations must be safe for
// concurrent use.
type Backoff interface {
	// NextInterval returns the delay before the given retry. Attempt starts
	// at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt and spreads it
// by ±JitterFactor, capped at MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration `env:"METADATA_SYNC_BACKOFF_INITIAL" envDefault:"1s"`
	MaxInterval     time.Duration `env:"METADATA_SYNC_BACKOFF_MAX" envDefault:"30s"`
	Multiplier      float64       `env:"METADATA_SYNC_BACKOFF_MULTIPLIER" envDefault:"2"`
	JitterFactor    float64       `env:"METADATA_SYNC_BACKOFF_JITTER" envDefault:"0.1"`
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = time.Second
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}
