package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// StripeProvider implements Provider on the Stripe API. It owns its client;
// nothing is configured through the SDK's package-level key.
type StripeProvider struct {
	api       *client.API
	secret    string
	tolerance time.Duration
}

type StripeOption func(*stripeSetup)

type stripeSetup struct {
	backends *stripe.Backends
}

// WithStripeBackends points the client at custom backends, for tests.
func WithStripeBackends(b *stripe.Backends) StripeOption {
	return func(s *stripeSetup) {
		s.backends = b
	}
}

func NewStripeProvider(cfg StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	var setup stripeSetup
	for _, opt := range opts {
		opt(&setup)
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeProvider{
		api:       client.New(cfg.SecretKey, setup.backends),
		secret:    cfg.WebhookSecret,
		tolerance: tolerance,
	}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

func (p *StripeProvider) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*Envelope, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(p.SignatureHeader()), p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld):
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", ErrMalformedEvent, event.ID)
	}
	return &Envelope{ID: event.ID, Type: string(event.Type), Object: event.Data.Raw}, nil
}

func (p *StripeProvider) DecodeEvent(env *Envelope) (Event, error) {
	meta := EventMeta{ID: env.ID, Type: env.Type, Provider: ProviderStripe}

	switch env.Type {
	case "checkout.session.completed":
		var obj stripeCheckoutObject
		if err := json.Unmarshal(env.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %w", ErrMalformedEvent, err)
		}
		if obj.Mode != "subscription" || obj.Subscription.ID == "" {
			return &Unhandled{EventMeta: meta}, nil
		}
		userID := obj.Metadata[MetadataUserIDKey]
		if userID == "" {
			userID = obj.ClientReferenceID
		}
		return &CheckoutCompleted{
			EventMeta:              meta,
			SessionID:              obj.ID,
			ExternalSubscriptionID: obj.Subscription.ID,
			ExternalCustomerID:     obj.Customer.ID,
			UserID:                 userID,
		}, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		ch, err := decodeStripeSubscription(env.Object)
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case "customer.subscription.created":
			return &SubscriptionCreated{EventMeta: meta, Change: *ch}, nil
		case "customer.subscription.updated":
			return &SubscriptionUpdated{EventMeta: meta, Change: *ch}, nil
		default:
			return &SubscriptionDeleted{EventMeta: meta, Change: *ch}, nil
		}

	default:
		return &Unhandled{EventMeta: meta}, nil
	}
}

func (p *StripeProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*Change, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, fmt.Errorf("retrieve stripe subscription: %w", err)
	}
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return nil, fmt.Errorf("%w: empty subscription response", ErrMalformedEvent)
	}
	return decodeStripeSubscription(sub.LastResponse.RawJSON)
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrValidation)
	}
	customerID, err := p.ensureCustomer(ctx, params.UserID, params.Email)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{MetadataUserIDKey: params.UserID}
	sp := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(params.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	sp.Context = ctx
	sp.Metadata = meta

	s, err := p.api.CheckoutSessions.New(sp)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if s.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// ensureCustomer finds the customer by email or creates one tagged with the
// user id.
func (p *StripeProvider) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	if email != "" {
		lp := &stripe.CustomerListParams{Email: stripe.String(email)}
		lp.Context = ctx
		lp.Limit = stripe.Int64(1)
		it := p.api.Customers.List(lp)
		if it.Next() {
			return it.Customer().ID, nil
		}
		if err := it.Err(); err != nil {
			return "", fmt.Errorf("list stripe customers: %w", err)
		}
	}

	cp := &stripe.CustomerParams{}
	if email != "" {
		cp.Email = stripe.String(email)
	}
	cp.Context = ctx
	cp.Metadata = map[string]string{MetadataUserIDKey: userID}
	c, err := p.api.Customers.New(cp)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	bp := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	bp.Context = ctx
	s, err := p.api.BillingPortalSessions.New(bp)
	if err != nil {
		return nil, fmt.Errorf("create stripe portal session: %w", err)
	}
	if s.URL == "" {
		return nil, ErrNoPortalURL
	}
	return &PortalSession{URL: s.URL}, nil
}

func isStripeNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound)
}

// stripeRef is a field Stripe sends either as an id or as an expanded object.
type stripeRef struct {
	ID string
}

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type stripeCheckoutObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Subscription      stripeRef         `json:"subscription"`
	Customer          stripeRef         `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart *int64            `json:"current_period_start"`
	CurrentPeriodEnd   *int64            `json:"current_period_end"`
	CancelAt           nullableUnix      `json:"cancel_at"`
	CancelAtPeriodEnd  *bool             `json:"cancel_at_period_end"`
	CanceledAt         *int64            `json:"canceled_at"`
	EndedAt            *int64            `json:"ended_at"`
	TrialStart         *int64            `json:"trial_start"`
	TrialEnd           *int64            `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart *int64 `json:"current_period_start"`
			CurrentPeriodEnd   *int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// nullableUnix is a unix timestamp that remembers whether its key was sent:
// an explicit null clears a value, an absent key leaves it alone.
type nullableUnix struct {
	Present bool
	Value   *int64
}

func (n *nullableUnix) UnmarshalJSON(b []byte) error {
	n.Present = true
	n.Value = nil
	if string(b) == "null" {
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// decodeStripeSubscription maps a Stripe subscription object onto a Change.
// Newer API versions report billing periods per item; the first item is
// used when the top-level fields are absent.
func decodeStripeSubscription(raw []byte) (*Change, error) {
	var obj stripeSubscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: subscription: %w", ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}

	ch := &Change{
		ExternalSubscriptionID: obj.ID,
		ExternalCustomerID:     obj.Customer.ID,
		UserID:                 obj.Metadata[MetadataUserIDKey],
		PeriodStart:            unixTime(obj.CurrentPeriodStart),
		PeriodEnd:              unixTime(obj.CurrentPeriodEnd),
		TrialStart:             unixTime(obj.TrialStart),
		TrialEnd:               unixTime(obj.TrialEnd),
		CanceledAt:             unixTime(obj.CanceledAt),
		EndedAt:                unixTime(obj.EndedAt),
	}
	if obj.Status != "" {
		st, err := ParseStatus(obj.Status)
		if err != nil {
			return nil, err
		}
		ch.Status = &st
	}
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		if item.Price.ID != "" {
			ch.PriceID = &item.Price.ID
		}
		if ch.PeriodStart == nil {
			ch.PeriodStart = unixTime(item.CurrentPeriodStart)
		}
		if ch.PeriodEnd == nil {
			ch.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}

	if obj.CancelAt.Present || obj.CancelAtPeriodEnd != nil {
		c := &Cancellation{At: unixTime(obj.CancelAt.Value)}
		if obj.CancelAtPeriodEnd != nil {
			c.AtPeriodEnd = *obj.CancelAtPeriodEnd
		}
		if c.AtPeriodEnd && c.At == nil {
			c.At = clonePtr(ch.PeriodEnd)
		}
		ch.Cancellation = c
	}
	return ch, nil
}

func unixTime(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

var _ Provider = (*StripeProvider)(nil)
