package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// Recorder receives pipeline measurements. pkg/metrics provides the
// Prometheus implementation.
type Recorder interface {
	WebhookEvent(provider, eventType, outcome string)
	MetadataSync(outcome string)
	ReconcileDuration(kind string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) WebhookEvent(string, string, string)      {}
func (nopRecorder) MetadataSync(string)                      {}
func (nopRecorder) ReconcileDuration(string, time.Duration) {}

type options struct {
	log      *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures the ambient dependencies shared by every component in
// this package.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(component string, opts []Option) options {
	o := options{
		log:      logger.Discard(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(logger.Component(component))
	return o
}
