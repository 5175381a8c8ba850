package subscription

import (
	"context"
	"encoding/json"
	"net/http"
)

// Envelope is a webhook delivery whose signature has been verified but
// whose object has not been decoded yet.
type Envelope struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// WebhookVerifier authenticates a raw delivery. It fails with
// ErrSignatureInvalid or ErrMalformedEvent and never parses the payload
// before the signature is checked.
type WebhookVerifier interface {
	SignatureHeader() string
	VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*Envelope, error)
}

// EventDecoder maps a provider event onto a typed Event. The decoded event
// carries the user id only when the provider metadata has one.
type EventDecoder interface {
	DecodeEvent(env *Envelope) (Event, error)
}

// SubscriptionFetcher reads the provider's current view of a subscription.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*Change, error)
}

type CheckoutParams struct {
	UserID     string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type PortalSession struct {
	URL string
}

// Provider is the payment-provider capability handle.
type Provider interface {
	Name() string
	WebhookVerifier
	EventDecoder
	SubscriptionFetcher
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}
