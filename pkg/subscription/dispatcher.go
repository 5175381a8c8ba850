package subscription

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

var (
	ErrDispatcherClosed = errors.New("subscription: metadata dispatcher is closed")
	ErrQueueFull        = errors.New("subscription: metadata sync queue is full")
	ErrDrainTimeout     = errors.New("subscription: metadata sync queue drain timed out")
)

type DispatcherConfig struct {
	Workers      int           `env:"METADATA_SYNC_WORKERS" envDefault:"4"`
	QueueSize    int           `env:"METADATA_SYNC_QUEUE_SIZE" envDefault:"256"`
	MaxAttempts  int           `env:"METADATA_SYNC_MAX_ATTEMPTS" envDefault:"5"`
	DrainTimeout time.Duration `env:"METADATA_SYNC_DRAIN_TIMEOUT" envDefault:"10s"`
	Backoff      ExponentialBackoff
}

// Syncer writes one user's metadata from the row currently stored for them.
// MetadataSync implements it.
type Syncer interface {
	SyncUser(ctx context.Context, userID string) error
}

// Dispatcher runs metadata syncs off the webhook path on bounded queues.
// Enqueue never blocks: a full queue fails the job loudly instead.
//
// Jobs carry only the user id and every attempt reads the stored row, so a
// retry can never write an older state than the one committed. Each user is
// pinned to one worker, so syncs for the same user never overlap.
type Dispatcher struct {
	syncer    Syncer
	cfg       DispatcherConfig
	backoff   Backoff
	retryable func(error) bool
	queues    []chan string

	mu     sync.RWMutex
	closed bool
	options
}

// DispatcherOption configures a Dispatcher beyond the shared options.
type DispatcherOption func(*Dispatcher)

// WithBackoff replaces the configured exponential backoff.
func WithBackoff(b Backoff) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.backoff = b
		}
	}
}

// WithRetryable decides which sync errors are worth another attempt. By
// default every error is.
func WithRetryable(fn func(error) bool) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.retryable = fn
		}
	}
}

func NewDispatcher(syncer Syncer, cfg DispatcherConfig, dopts []DispatcherOption, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	// QueueSize bounds the waiting jobs across all workers.
	perWorker := max(1, (cfg.QueueSize+cfg.Workers-1)/cfg.Workers)
	queues := make([]chan string, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan string, perWorker)
	}
	d := &Dispatcher{
		syncer:    syncer,
		cfg:       cfg,
		backoff:   cfg.Backoff,
		retryable: func(error) bool { return true },
		queues:    queues,
		options:   newOptions("metadata_dispatcher", opts),
	}
	for _, opt := range dopts {
		opt(d)
	}
	return d
}

// Enqueue schedules a metadata sync for the owner of sub. It returns
// ErrQueueFull or ErrDispatcherClosed when the job cannot be accepted; either
// way the failure has already been logged and counted.
func (d *Dispatcher) Enqueue(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.UserID == "" {
		return ErrValidation
	}
	userID := sub.UserID

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.reject(ctx, userID, ErrDispatcherClosed)
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.lane(userID)] <- userID:
		return nil
	default:
		d.reject(ctx, userID, ErrQueueFull)
		return ErrQueueFull
	}
}

// lane picks the worker that owns userID.
func (d *Dispatcher) lane(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) reject(ctx context.Context, userID string, err error) {
	d.recorder.MetadataSync("dropped")
	d.log.ErrorContext(ctx, "metadata sync not scheduled",
		logger.UserID(userID),
		logger.Error(err),
	)
}

// Run starts the workers and blocks until ctx is canceled. Jobs still queued
// at that point are processed until DrainTimeout elapses; anything left after
// that fails fast and is logged.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	for _, queue := range d.queues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range queue {
				d.process(jobCtx, userID)
			}
		}()
	}
	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	pending := 0
	for _, queue := range d.queues {
		close(queue)
		pending += len(queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		d.log.Error("metadata sync queue not drained before shutdown", slog.Int("pending", pending))
		cancelJobs()
		<-done
		return ErrDrainTimeout
	}
}

func (d *Dispatcher) process(ctx context.Context, userID string) {
	log := d.log.With(logger.UserID(userID))

	for attempt := 1; ; attempt++ {
		err := d.syncer.SyncUser(ctx, userID)
		if err == nil {
			log.DebugContext(ctx, "metadata synced", logger.Attempt(attempt))
			return
		}
		if attempt >= d.cfg.MaxAttempts || !d.retryable(err) {
			log.ErrorContext(ctx, "metadata sync failed",
				logger.Attempt(attempt),
				logger.Error(err),
			)
			return
		}

		delay := d.backoff.NextInterval(attempt)
		log.WarnContext(ctx, "metadata sync failed, retrying",
			logger.Attempt(attempt),
			logger.Duration(delay),
			logger.Error(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.ErrorContext(ctx, "metadata sync abandoned", logger.Error(ctx.Err()))
			return
		case <-t.C:
		}
	}
}
