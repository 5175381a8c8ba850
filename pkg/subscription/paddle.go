package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const ProviderPaddle = "paddle"

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Sandbox       bool   `env:"PADDLE_SANDBOX" envDefault:"false"`
}

// PaddleProvider implements Provider on Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	if cfg.Sandbox {
		client, err = paddle.NewSandbox(cfg.APIKey)
	} else {
		client, err = paddle.New(cfg.APIKey)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

func (p *PaddleProvider) SignatureHeader() string { return "Paddle-Signature" }

func (p *PaddleProvider) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), header.Get(p.SignatureHeader()))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var env struct {
		EventID   string          `json:"event_id"`
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.EventType == "" || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: envelope without type or data", ErrMalformedEvent)
	}
	return &Envelope{ID: env.EventID, Type: env.EventType, Object: env.Data}, nil
}

func (p *PaddleProvider) DecodeEvent(env *Envelope) (Event, error) {
	meta := EventMeta{ID: env.ID, Type: env.Type, Provider: ProviderPaddle}

	switch env.Type {
	case "transaction.completed":
		var obj paddleTransactionObject
		if err := json.Unmarshal(env.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: transaction: %w", ErrMalformedEvent, err)
		}
		if obj.SubscriptionID == "" {
			return &Unhandled{EventMeta: meta}, nil
		}
		return &CheckoutCompleted{
			EventMeta:              meta,
			SessionID:              obj.ID,
			ExternalSubscriptionID: obj.SubscriptionID,
			ExternalCustomerID:     obj.CustomerID,
			UserID:                 obj.CustomData.userID(),
		}, nil

	case "subscription.created", "subscription.updated", "subscription.canceled":
		ch, err := decodePaddleSubscription(env.Object)
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case "subscription.created":
			return &SubscriptionCreated{EventMeta: meta, Change: *ch}, nil
		case "subscription.updated":
			return &SubscriptionUpdated{EventMeta: meta, Change: *ch}, nil
		default:
			return &SubscriptionDeleted{EventMeta: meta, Change: *ch}, nil
		}

	default:
		return &Unhandled{EventMeta: meta}, nil
	}
}

func (p *PaddleProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*Change, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, fmt.Errorf("get paddle subscription: %w", err)
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode paddle subscription: %w", err)
	}
	return decodePaddleSubscription(raw)
}

func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrValidation)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: 1,
	})
	req := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			MetadataUserIDKey: params.UserID,
		},
	}
	if params.Email != "" {
		req.CustomData["email"] = params.Email
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL}, nil
}

// CreatePortalSession opens Paddle's customer portal. Paddle has no return
// URL; the portal links back through the seller's settings.
func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerID, _ string) (*PortalSession, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return nil, ErrNoPortalURL
	}
	return &PortalSession{URL: session.URLs.General.Overview}, nil
}

// paddleCustomData is free-form JSON; only string values are read.
type paddleCustomData map[string]any

func (d paddleCustomData) userID() string {
	s, _ := d[MetadataUserIDKey].(string)
	return s
}

type paddleTransactionObject struct {
	ID             string           `json:"id"`
	SubscriptionID string           `json:"subscription_id"`
	CustomerID     string           `json:"customer_id"`
	CustomData     paddleCustomData `json:"custom_data"`
}

type paddlePeriod struct {
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

type paddleSubscriptionObject struct {
	ID                   string           `json:"id"`
	Status               string           `json:"status"`
	CustomerID           string           `json:"customer_id"`
	CustomData           paddleCustomData `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod    `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action      string     `json:"action"`
		EffectiveAt *time.Time `json:"effective_at"`
	} `json:"scheduled_change"`
	CanceledAt *time.Time `json:"canceled_at"`
	Items      []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
		TrialDates *paddlePeriod `json:"trial_dates"`
	} `json:"items"`
}

// decodePaddleSubscription maps a Paddle subscription entity onto a Change.
// Paddle schedules cancellation as a scheduled_change with action cancel; the
// change is a period-end cancellation when it takes effect when the current
// billing period ends.
func decodePaddleSubscription(raw []byte) (*Change, error) {
	var obj paddleSubscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: subscription: %w", ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}

	ch := &Change{
		ExternalSubscriptionID: obj.ID,
		ExternalCustomerID:     obj.CustomerID,
		UserID:                 obj.CustomData.userID(),
		CanceledAt:             utcTime(obj.CanceledAt),
	}
	if obj.Status != "" {
		st, err := ParseStatus(obj.Status)
		if err != nil {
			return nil, err
		}
		ch.Status = &st
	}
	if obj.CurrentBillingPeriod != nil {
		ch.PeriodStart = utcTime(obj.CurrentBillingPeriod.StartsAt)
		ch.PeriodEnd = utcTime(obj.CurrentBillingPeriod.EndsAt)
	}
	if len(obj.Items) > 0 {
		item := obj.Items[0]
		if item.Price.ID != "" {
			ch.PriceID = &item.Price.ID
		}
		if item.TrialDates != nil {
			ch.TrialStart = utcTime(item.TrialDates.StartsAt)
			ch.TrialEnd = utcTime(item.TrialDates.EndsAt)
		}
	}

	c := &Cancellation{}
	if sc := obj.ScheduledChange; sc != nil && sc.Action == "cancel" && sc.EffectiveAt != nil {
		c.At = utcTime(sc.EffectiveAt)
		c.AtPeriodEnd = ch.PeriodEnd != nil && c.At.Equal(*ch.PeriodEnd)
	}
	ch.Cancellation = c
	return ch, nil
}

func utcTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ Provider = (*PaddleProvider)(nil)
