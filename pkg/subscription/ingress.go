package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/statemachine"
)

// Webhook lifecycle states.
const (
	StateReceived          statemachine.State = "received"
	StateSignatureVerified statemachine.State = "signature_verified"
	StateSignatureRejected statemachine.State = "signature_rejected"
	StateMalformed         statemachine.State = "malformed"
	StateNormalized        statemachine.State = "normalized"
	StateReconciled        statemachine.State = "reconciled"
	StateAcknowledged      statemachine.State = "acknowledged"
	StateFailed            statemachine.State = "failed"
)

const (
	evVerify    statemachine.Event = "verify"
	evReject    statemachine.Event = "reject"
	evMalformed statemachine.Event = "malformed"
	evNormalize statemachine.Event = "normalize"
	evReconcile statemachine.Event = "reconcile"
	evSkip      statemachine.Event = "skip"
	evAck       statemachine.Event = "ack"
	evFail      statemachine.Event = "fail"
)

// webhookLifecycle is the transition table every delivery walks through.
var webhookLifecycle = statemachine.MustDefine(StateReceived, []statemachine.Transition{
	{From: StateReceived, Event: evVerify, To: StateSignatureVerified},
	{From: StateReceived, Event: evReject, To: StateSignatureRejected},
	{From: StateReceived, Event: evMalformed, To: StateMalformed},
	{From: StateReceived, Event: evFail, To: StateFailed},

	{From: StateSignatureVerified, Event: evNormalize, To: StateNormalized},
	{From: StateSignatureVerified, Event: evMalformed, To: StateMalformed},
	{From: StateSignatureVerified, Event: evSkip, To: StateAcknowledged},
	{From: StateSignatureVerified, Event: evFail, To: StateFailed},

	{From: StateNormalized, Event: evReconcile, To: StateReconciled},
	{From: StateNormalized, Event: evSkip, To: StateAcknowledged},
	{From: StateNormalized, Event: evFail, To: StateFailed},

	{From: StateReconciled, Event: evAck, To: StateAcknowledged},
	{From: StateReconciled, Event: evFail, To: StateFailed},
}, StateSignatureRejected, StateMalformed, StateAcknowledged, StateFailed)

// MetadataEnqueuer hands committed rows to Metadata Sync. Dispatcher
// implements it.
type MetadataEnqueuer interface {
	Enqueue(ctx context.Context, sub *Subscription) error
}

// IngressResult describes how a delivery ended.
type IngressResult struct {
	State   statemachine.State
	History []statemachine.State
	Event   Event
	Result  *Result
}

// Ingress runs one webhook delivery through verification, normalization,
// reconciliation and the post-commit side effects.
//
// Handle returns nil for every acknowledged delivery, including unknown event
// types and events whose owner cannot be resolved. Errors wrap
// ErrMissingSignature, ErrSignatureInvalid or ErrMalformedEvent when the
// delivery must be rejected, and ErrRetry when the provider should redeliver.
type Ingress struct {
	provider   string
	verifier   WebhookVerifier
	normalizer *Normalizer
	reconciler *Reconciler
	cache      *CacheInvalidator
	metadata   MetadataEnqueuer
	options
}

func NewIngress(
	provider string,
	verifier WebhookVerifier,
	normalizer *Normalizer,
	reconciler *Reconciler,
	cache *CacheInvalidator,
	metadata MetadataEnqueuer,
	opts ...Option,
) *Ingress {
	return &Ingress{
		provider:   provider,
		verifier:   verifier,
		normalizer: normalizer,
		reconciler: reconciler,
		cache:      cache,
		metadata:   metadata,
		options:    newOptions("webhook_ingress", opts),
	}
}

// SignatureHeader is the request header carrying the provider signature.
func (in *Ingress) SignatureHeader() string {
	return in.verifier.SignatureHeader()
}

func (in *Ingress) Handle(ctx context.Context, payload []byte, header http.Header) (*IngressResult, error) {
	log := in.log.With(logger.Provider(in.provider))
	m := webhookLifecycle.Start(statemachine.WithHook(func(ctx context.Context, from, to statemachine.State, _ statemachine.Event) {
		log.DebugContext(ctx, "webhook transition", logger.State(string(to)), slog.String("from", string(from)))
	}))
	res := &IngressResult{}
	eventType := "unknown"

	finish := func(err error) (*IngressResult, error) {
		res.State = m.Current()
		res.History = m.History()
		in.recorder.WebhookEvent(in.provider, eventType, string(res.State))
		return res, err
	}

	if header.Get(in.verifier.SignatureHeader()) == "" {
		in.fire(ctx, m, evReject)
		return finish(ErrMissingSignature)
	}

	env, err := in.verifier.VerifyWebhook(ctx, payload, header)
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		in.fire(ctx, m, evReject)
		return finish(err)
	case errors.Is(err, ErrMalformedEvent):
		log.WarnContext(ctx, "malformed webhook", logger.Error(err))
		in.fire(ctx, m, evMalformed)
		return finish(err)
	case err != nil:
		in.fire(ctx, m, evFail)
		return finish(fmt.Errorf("%w: verify webhook: %w", ErrRetry, err))
	}
	in.fire(ctx, m, evVerify)
	eventType = env.Type
	log = log.With(logger.EventID(env.ID), logger.EventType(env.Type))

	ev, err := in.normalizer.Normalize(ctx, env)
	switch {
	case errors.Is(err, ErrUnresolvedUser):
		log.InfoContext(ctx, "event owner unresolved, acknowledged without changes", logger.Error(err))
		in.fire(ctx, m, evSkip)
		return finish(nil)
	case errors.Is(err, ErrMalformedEvent):
		log.WarnContext(ctx, "undecodable webhook event", logger.Error(err))
		in.fire(ctx, m, evMalformed)
		return finish(err)
	case err != nil:
		log.ErrorContext(ctx, "webhook normalization failed", logger.Error(err))
		in.fire(ctx, m, evFail)
		return finish(retryable(err))
	}
	res.Event = ev
	if ev.Kind() == KindUnhandled {
		log.DebugContext(ctx, "unhandled event type acknowledged")
		in.fire(ctx, m, evSkip)
		return finish(nil)
	}
	in.fire(ctx, m, evNormalize)

	result, err := in.reconciler.Apply(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "reconciliation failed", logger.Error(err))
		in.fire(ctx, m, evFail)
		return finish(retryable(err))
	}
	res.Result = result
	if result.Outcome != OutcomeCommitted {
		in.fire(ctx, m, evSkip)
		return finish(nil)
	}
	in.fire(ctx, m, evReconcile)

	sub := result.Subscription
	if err := in.cache.InvalidateUser(ctx, sub.UserID); err != nil {
		// Entries expire on their TTL; the write itself is committed.
		log.WarnContext(ctx, "cache invalidation failed", logger.UserID(sub.UserID), logger.Error(err))
	}
	// Enqueue failures are logged and counted by the dispatcher.
	_ = in.metadata.Enqueue(ctx, sub)

	in.fire(ctx, m, evAck)
	return finish(nil)
}

func (in *Ingress) fire(ctx context.Context, m *statemachine.Machine, ev statemachine.Event) {
	if err := m.Fire(ctx, ev); err != nil {
		// The table covers every path through Handle.
		panic(fmt.Sprintf("subscription: webhook lifecycle: %v", err))
	}
}

func retryable(err error) error {
	if errors.Is(err, ErrRetry) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetry, err)
}
