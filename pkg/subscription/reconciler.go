package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// Outcome of applying an event.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome      Outcome
	Subscription *Subscription
	// Reason explains an ignored event.
	Reason error
}

type ReconcilerConfig struct {
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Reconciler applies events to the Store. Every failure it returns wraps
// ErrRetry: the caller should ask the provider to redeliver.
type Reconciler struct {
	store   Store
	plans   PlanCatalog
	fetcher SubscriptionFetcher
	timeout time.Duration
	options
}

func NewReconciler(store Store, plans PlanCatalog, fetcher SubscriptionFetcher, cfg ReconcilerConfig, opts ...Option) *Reconciler {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		store:   store,
		plans:   plans,
		fetcher: fetcher,
		timeout: timeout,
		options: newOptions("reconciler", opts),
	}
}

func (r *Reconciler) Apply(ctx context.Context, ev Event) (*Result, error) {
	start := r.now()
	defer func() { r.recorder.ReconcileDuration(string(ev.Kind()), r.now().Sub(start)) }()

	switch e := ev.(type) {
	case *CheckoutCompleted:
		ch, err := r.fetch(ctx, e)
		if err != nil {
			return nil, err
		}
		return r.upsert(ctx, e.Kind(), ch)
	case *SubscriptionCreated, *SubscriptionUpdated, *SubscriptionDeleted:
		return r.upsert(ctx, e.Kind(), descriptor(e))
	default:
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

// fetch loads the subscription a checkout refers to, bounded by the
// provider timeout.
func (r *Reconciler) fetch(ctx context.Context, e *CheckoutCompleted) (*Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch, err := r.fetcher.FetchSubscription(ctx, e.ExternalSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: fetch subscription %s: %w", ErrRetry, ErrExternalProvider, e.ExternalSubscriptionID, err)
	}

	ch.UserID = e.UserID
	ch.ExternalSubscriptionID = e.ExternalSubscriptionID
	if ch.ExternalCustomerID == "" {
		ch.ExternalCustomerID = e.ExternalCustomerID
	}
	return ch, nil
}

func (r *Reconciler) upsert(ctx context.Context, kind Kind, ch *Change) (*Result, error) {
	log := r.log.With(
		logger.UserID(ch.UserID),
		logger.SubscriptionID(ch.ExternalSubscriptionID),
		logger.EventType(string(kind)),
	)

	var planID *int64
	if kind != KindSubscriptionDeleted {
		id, err := r.resolvePlan(ctx, ch.PriceID)
		if err != nil {
			return nil, err
		}
		planID = id
	}

	now := r.now().UTC()
	sub, err := r.store.Upsert(ctx, ch.UserID, func(current *Subscription) (*Subscription, error) {
		return applyChange(kind, current, ch, planID, now)
	})
	switch {
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrStaleEvent):
		log.InfoContext(ctx, "event ignored", logger.Error(err))
		return &Result{Outcome: OutcomeIgnored, Reason: err}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: upsert subscription: %w", ErrRetry, err)
	}

	log.InfoContext(ctx, "subscription reconciled", logger.State(string(sub.Status)))
	return &Result{Outcome: OutcomeCommitted, Subscription: sub}, nil
}

// resolvePlan maps a price id to a plan id. An unknown price leaves the plan
// unchanged: catalog updates and billing events may race.
func (r *Reconciler) resolvePlan(ctx context.Context, priceID *string) (*int64, error) {
	if priceID == nil || *priceID == "" {
		return nil, nil
	}
	plan, err := r.plans.GetPlanByPriceID(ctx, *priceID)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		r.log.WarnContext(ctx, "no plan for price, plan left unchanged", logger.PriceID(*priceID))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: plan lookup: %w", ErrRetry, err)
	}
	return &plan.ID, nil
}

// applyChange computes the next row. It is pure: the same inputs always
// produce the same row.
func applyChange(kind Kind, current *Subscription, ch *Change, planID *int64, now time.Time) (*Subscription, error) {
	if kind == KindSubscriptionDeleted {
		return applyDeletion(current, ch, now)
	}

	var next *Subscription
	switch {
	case current == nil:
		next = &Subscription{UserID: ch.UserID, Status: StatusIncomplete, CreatedAt: now}
	case current.ExternalSubscriptionID != "" && current.ExternalSubscriptionID != ch.ExternalSubscriptionID:
		// A live row only yields to a new subscription, never to updates
		// about one the user already left.
		if kind == KindSubscriptionUpdated && !current.IsCanceled() {
			return nil, ErrStaleEvent
		}
		next = &Subscription{
			ID:                 current.ID,
			UserID:             current.UserID,
			ExternalCustomerID: current.ExternalCustomerID,
			PlanID:             clonePtr(current.PlanID),
			Status:             StatusIncomplete,
			LastMetadataSync:   clonePtr(current.LastMetadataSync),
			CreatedAt:          current.CreatedAt,
		}
	case current.IsCanceled():
		return nil, ErrTerminalState
	default:
		next = current.Clone()
	}

	next.ExternalSubscriptionID = ch.ExternalSubscriptionID
	if ch.ExternalCustomerID != "" {
		next.ExternalCustomerID = ch.ExternalCustomerID
	}
	if planID != nil {
		next.PlanID = clonePtr(planID)
	}
	if ch.Status != nil {
		next.Status = *ch.Status
	}
	setIfPresent(&next.CurrentPeriodStart, ch.PeriodStart)
	setIfPresent(&next.CurrentPeriodEnd, ch.PeriodEnd)
	setIfPresent(&next.TrialStart, ch.TrialStart)
	setIfPresent(&next.TrialEnd, ch.TrialEnd)
	if ch.Cancellation != nil {
		applyCancellation(next, ch.Cancellation)
	}
	if next.IsCanceled() {
		clearSchedule(next)
		setIfPresent(&next.CanceledAt, ch.CanceledAt)
		setIfPresent(&next.EndedAt, ch.EndedAt)
	}
	next.UpdatedAt = now
	return next, nil
}

// applyDeletion is the terminal transition: status canceled, schedule
// cleared, everything else kept.
func applyDeletion(current *Subscription, ch *Change, now time.Time) (*Subscription, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: no row to cancel", ErrStaleEvent)
	}
	if current.ExternalSubscriptionID != "" && current.ExternalSubscriptionID != ch.ExternalSubscriptionID {
		return nil, ErrStaleEvent
	}

	next := current.Clone()
	next.Status = StatusCanceled
	clearSchedule(next)
	setIfPresent(&next.CanceledAt, ch.CanceledAt)
	setIfPresent(&next.EndedAt, ch.EndedAt)
	next.UpdatedAt = now
	return next, nil
}

// applyCancellation writes the cancellation triple as a unit.
func applyCancellation(next *Subscription, c *Cancellation) {
	if c.At == nil {
		clearSchedule(next)
		return
	}
	change := ChangeCancel
	next.CancelAt = clonePtr(c.At)
	next.CancelAtPeriodEnd = c.AtPeriodEnd
	next.ScheduledChangeType = &change
	next.ScheduledChangeDate = clonePtr(c.At)
	next.ScheduledPlanID = nil
}

func clearSchedule(s *Subscription) {
	s.CancelAt = nil
	s.CancelAtPeriodEnd = false
	s.ScheduledChangeType = nil
	s.ScheduledChangeDate = nil
	s.ScheduledPlanID = nil
}

func setIfPresent(dst **time.Time, v *time.Time) {
	if v != nil {
		*dst = clonePtr(v)
	}
}
