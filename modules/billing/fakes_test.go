package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

const fakeSignatureHeader = "X-Fake-Signature"

// fakeProvider accepts deliveries signed "valid" whose body is
// {"id","type","data"} and decodes "subscription.updated" events.
type fakeProvider struct {
	mu          sync.Mutex
	checkoutErr error
	checkouts   []subscription.CheckoutParams
}

func (*fakeProvider) Name() string            { return "fake" }
func (*fakeProvider) SignatureHeader() string { return fakeSignatureHeader }

func (*fakeProvider) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*subscription.Envelope, error) {
	if header.Get(fakeSignatureHeader) != "valid" {
		return nil, subscription.ErrSignatureInvalid
	}
	var env struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrMalformedEvent, err)
	}
	return &subscription.Envelope{ID: env.ID, Type: env.Type, Object: env.Data}, nil
}

func (*fakeProvider) DecodeEvent(env *subscription.Envelope) (subscription.Event, error) {
	meta := subscription.EventMeta{ID: env.ID, Type: env.Type, Provider: "fake"}
	if env.Type != "subscription.updated" {
		return &subscription.Unhandled{EventMeta: meta}, nil
	}

	var obj struct {
		ID       string `json:"id"`
		Customer string `json:"customer"`
		Status   string `json:"status"`
		UserID   string `json:"user_id"`
	}
	if err := json.Unmarshal(env.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrMalformedEvent, err)
	}
	status, err := subscription.ParseStatus(obj.Status)
	if err != nil {
		return nil, err
	}
	return &subscription.SubscriptionUpdated{
		EventMeta: meta,
		Change: subscription.Change{
			ExternalSubscriptionID: obj.ID,
			ExternalCustomerID:     obj.Customer,
			UserID:                 obj.UserID,
			Status:                 &status,
		},
	}, nil
}

func (*fakeProvider) FetchSubscription(context.Context, string) (*subscription.Change, error) {
	return nil, subscription.ErrSubscriptionNotFound
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params subscription.CheckoutParams) (*subscription.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	p.checkouts = append(p.checkouts, params)
	return &subscription.CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil
}

func (*fakeProvider) CreatePortalSession(_ context.Context, customerID, _ string) (*subscription.PortalSession, error) {
	return &subscription.PortalSession{URL: "https://portal.example.com/" + customerID}, nil
}

func (p *fakeProvider) checkoutCalls() []subscription.CheckoutParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]subscription.CheckoutParams(nil), p.checkouts...)
}

type fakeWriter struct {
	mu    sync.Mutex
	err   error
	calls map[string]map[string]string
}

func (w *fakeWriter) UpdateUserMetadata(_ context.Context, userID string, metadata map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.calls == nil {
		w.calls = make(map[string]map[string]string)
	}
	w.calls[userID] = metadata
	return nil
}

func (w *fakeWriter) written(userID string) (map[string]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.calls[userID]
	return m, ok
}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, *subscription.Subscription) error { return nil }
