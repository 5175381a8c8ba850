package subscription_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

const stripeTestSecret = "whsec_test_secret"

func newStripeProvider(t *testing.T, handler http.Handler) *subscription.StripeProvider {
	t.Helper()

	var opts []subscription.StripeOption
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		opts = append(opts, subscription.WithStripeBackends(&stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}))
	}

	p, err := subscription.NewStripeProvider(subscription.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: stripeTestSecret,
	}, opts...)
	require.NoError(t, err)
	return p
}

// stripeEvent renders a webhook event envelope around object.
func stripeEvent(t *testing.T, eventType string, object any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "evt_" + eventType,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-07-30.basil",
		"created":     1700000000,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func signStripe(t *testing.T, payload []byte) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeTestSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

func decodeStripe(t *testing.T, p *subscription.StripeProvider, eventType string, object any) (subscription.Event, error) {
	t.Helper()
	payload := stripeEvent(t, eventType, object)
	env, err := p.VerifyWebhook(context.Background(), payload, signStripe(t, payload))
	require.NoError(t, err)
	return p.DecodeEvent(env)
}

func TestNewStripeProvider(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewStripeProvider(subscription.StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, subscription.ErrMissingAPIKey)

	_, err = subscription.NewStripeProvider(subscription.StripeConfig{SecretKey: "sk"})
	assert.ErrorIs(t, err, subscription.ErrMissingWebhookSecret)
}

func TestStripeVerifyWebhook(t *testing.T) {
	t.Parallel()
	p := newStripeProvider(t, nil)
	ctx := context.Background()

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "invoice.paid", map[string]any{"id": "in_1"})

		env, err := p.VerifyWebhook(ctx, payload, signStripe(t, payload))
		require.NoError(t, err)
		assert.Equal(t, "evt_invoice.paid", env.ID)
		assert.Equal(t, "invoice.paid", env.Type)
		assert.JSONEq(t, `{"id":"in_1"}`, string(env.Object))
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		payload := stripeEvent(t, "invoice.paid", map[string]any{"id": "in_1"})
		header := signStripe(t, payload)
		tampered := stripeEvent(t, "invoice.paid", map[string]any{"id": "in_2"})

		_, err := p.VerifyWebhook(ctx, tampered, header)
		assert.ErrorIs(t, err, subscription.ErrSignatureInvalid)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set("Stripe-Signature", "not-a-signature")

		_, err := p.VerifyWebhook(ctx, []byte(`{}`), h)
		assert.ErrorIs(t, err, subscription.ErrSignatureInvalid)
	})

	t.Run("signed but not json", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`not json`)

		_, err := p.VerifyWebhook(ctx, payload, signStripe(t, payload))
		assert.ErrorIs(t, err, subscription.ErrMalformedEvent)
	})
}

func TestStripeDecodeSubscriptionEvents(t *testing.T) {
	t.Parallel()
	p := newStripeProvider(t, nil)

	t.Run("updated with period end cancellation", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":                   "sub_1",
			"customer":             "cus_1",
			"status":               "active",
			"current_period_end":   1700000000,
			"cancel_at":            1705000000,
			"cancel_at_period_end": true,
			"metadata":             map[string]string{"clerk_user_id": "user_42"},
			"items": map[string]any{"data": []any{
				map[string]any{"price": map[string]any{"id": "price_pro"}},
			}},
		})
		require.NoError(t, err)

		upd, ok := ev.(*subscription.SubscriptionUpdated)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, subscription.KindSubscriptionUpdated, upd.Kind())
		assert.Equal(t, "sub_1", upd.ExternalSubscriptionID)
		assert.Equal(t, "cus_1", upd.ExternalCustomerID)
		assert.Equal(t, "user_42", upd.UserID)
		assert.Equal(t, ptr("price_pro"), upd.PriceID)
		assert.Equal(t, ptr(subscription.StatusActive), upd.Status)
		assert.Equal(t, unix(1700000000), upd.PeriodEnd)
		require.NotNil(t, upd.Cancellation)
		assert.Equal(t, unix(1705000000), upd.Cancellation.At)
		assert.True(t, upd.Cancellation.AtPeriodEnd)
	})

	t.Run("period end flag without date derives the date", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":                   "sub_1",
			"customer":             map[string]any{"id": "cus_1", "object": "customer"},
			"status":               "active",
			"cancel_at":            nil,
			"cancel_at_period_end": true,
			"items": map[string]any{"data": []any{
				map[string]any{
					"price":                map[string]any{"id": "price_pro"},
					"current_period_start": 1690000000,
					"current_period_end":   1700000000,
				},
			}},
		})
		require.NoError(t, err)

		upd := ev.(*subscription.SubscriptionUpdated)
		assert.Equal(t, "cus_1", upd.ExternalCustomerID)
		assert.Equal(t, unix(1690000000), upd.PeriodStart)
		assert.Equal(t, unix(1700000000), upd.PeriodEnd)
		require.NotNil(t, upd.Cancellation)
		assert.Equal(t, unix(1700000000), upd.Cancellation.At)
	})

	t.Run("no cancellation clears", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.created", map[string]any{
			"id":                   "sub_1",
			"customer":             "cus_1",
			"status":               "trialing",
			"cancel_at":            nil,
			"cancel_at_period_end": false,
			"trial_start":          1690000000,
			"trial_end":            1691000000,
		})
		require.NoError(t, err)

		cr, ok := ev.(*subscription.SubscriptionCreated)
		require.True(t, ok)
		assert.Empty(t, cr.UserID)
		require.NotNil(t, cr.Cancellation)
		assert.Nil(t, cr.Cancellation.At)
		assert.Equal(t, unix(1691000000), cr.TrialEnd)
	})

	t.Run("explicit null cancel_at alone clears", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":        "sub_1",
			"status":    "active",
			"cancel_at": nil,
		})
		require.NoError(t, err)

		upd := ev.(*subscription.SubscriptionUpdated)
		require.NotNil(t, upd.Cancellation)
		assert.Nil(t, upd.Cancellation.At)
		assert.False(t, upd.Cancellation.AtPeriodEnd)
	})

	t.Run("absent cancellation keys leave the schedule alone", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":     "sub_1",
			"status": "past_due",
		})
		require.NoError(t, err)
		assert.Nil(t, ev.(*subscription.SubscriptionUpdated).Cancellation)
	})

	t.Run("deleted", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.deleted", map[string]any{
			"id":          "sub_1",
			"customer":    "cus_1",
			"status":      "canceled",
			"canceled_at": 1699000000,
			"ended_at":    1700000000,
		})
		require.NoError(t, err)

		del, ok := ev.(*subscription.SubscriptionDeleted)
		require.True(t, ok)
		assert.Equal(t, unix(1699000000), del.CanceledAt)
		assert.Equal(t, unix(1700000000), del.EndedAt)
	})

	t.Run("unknown status is malformed", func(t *testing.T) {
		t.Parallel()
		_, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":     "sub_1",
			"status": "exploded",
		})
		assert.ErrorIs(t, err, subscription.ErrMalformedEvent)
	})

	t.Run("paused maps to unpaid", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "customer.subscription.updated", map[string]any{
			"id":     "sub_1",
			"status": "paused",
		})
		require.NoError(t, err)
		assert.Equal(t, ptr(subscription.StatusUnpaid), ev.(*subscription.SubscriptionUpdated).Status)
	})
}

func TestStripeDecodeCheckout(t *testing.T) {
	t.Parallel()
	p := newStripeProvider(t, nil)

	tests := []struct {
		name   string
		object map[string]any
		want   subscription.Event
	}{
		{
			name: "metadata user",
			object: map[string]any{
				"id": "cs_1", "mode": "subscription", "subscription": "sub_1", "customer": "cus_1",
				"metadata": map[string]string{"clerk_user_id": "user_1"},
			},
			want: &subscription.CheckoutCompleted{SessionID: "cs_1", ExternalSubscriptionID: "sub_1", ExternalCustomerID: "cus_1", UserID: "user_1"},
		},
		{
			name: "client reference fallback",
			object: map[string]any{
				"id": "cs_2", "mode": "subscription", "subscription": "sub_2", "customer": "cus_2",
				"client_reference_id": "user_2",
			},
			want: &subscription.CheckoutCompleted{SessionID: "cs_2", ExternalSubscriptionID: "sub_2", ExternalCustomerID: "cus_2", UserID: "user_2"},
		},
		{
			name:   "one-off payment",
			object: map[string]any{"id": "cs_3", "mode": "payment"},
			want:   &subscription.Unhandled{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := decodeStripe(t, p, "checkout.session.completed", tt.object)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind(), ev.Kind())
			if want, ok := tt.want.(*subscription.CheckoutCompleted); ok {
				got := ev.(*subscription.CheckoutCompleted)
				assert.Equal(t, want.SessionID, got.SessionID)
				assert.Equal(t, want.ExternalSubscriptionID, got.ExternalSubscriptionID)
				assert.Equal(t, want.ExternalCustomerID, got.ExternalCustomerID)
				assert.Equal(t, want.UserID, got.UserID)
				assert.Equal(t, "stripe", got.Source().Provider)
			}
		})
	}

	t.Run("unknown event type", func(t *testing.T) {
		t.Parallel()
		ev, err := decodeStripe(t, p, "invoice.paid", map[string]any{"id": "in_1"})
		require.NoError(t, err)
		assert.Equal(t, subscription.KindUnhandled, ev.Kind())
		assert.Equal(t, "invoice.paid", ev.Source().Type)
	})
}

func TestStripeAPI(t *testing.T) {
	t.Parallel()

	t.Run("fetch subscription", func(t *testing.T) {
		t.Parallel()
		p := newStripeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			switch r.URL.Path {
			case "/v1/subscriptions/sub_1":
				fmt.Fprint(w, `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active",
					"cancel_at":null,"cancel_at_period_end":false,"metadata":{"clerk_user_id":"user_1"},
					"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item",
					"price":{"id":"price_pro","object":"price"},"current_period_start":1690000000,"current_period_end":1700000000}]}}`)
			default:
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`)
			}
		}))

		ch, err := p.FetchSubscription(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "sub_1", ch.ExternalSubscriptionID)
		assert.Equal(t, "cus_1", ch.ExternalCustomerID)
		assert.Equal(t, "user_1", ch.UserID)
		assert.Equal(t, ptr("price_pro"), ch.PriceID)
		assert.Equal(t, unix(1700000000), ch.PeriodEnd)

		_, err = p.FetchSubscription(context.Background(), "sub_missing")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("checkout creates customer and session", func(t *testing.T) {
		t.Parallel()
		p := newStripeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
				assert.Equal(t, "jane@example.com", r.Form.Get("email"))
				fmt.Fprint(w, `{"object":"list","data":[],"has_more":false,"url":"/v1/customers"}`)
			case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
				assert.Equal(t, "jane@example.com", r.Form.Get("email"))
				assert.Equal(t, "user_1", r.Form.Get("metadata[clerk_user_id]"))
				fmt.Fprint(w, `{"id":"cus_new","object":"customer"}`)
			case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
				assert.Equal(t, "cus_new", r.Form.Get("customer"))
				assert.Equal(t, "subscription", r.Form.Get("mode"))
				assert.Equal(t, "price_pro", r.Form.Get("line_items[0][price]"))
				assert.Equal(t, "user_1", r.Form.Get("client_reference_id"))
				assert.Equal(t, "user_1", r.Form.Get("metadata[clerk_user_id]"))
				assert.Equal(t, "user_1", r.Form.Get("subscription_data[metadata][clerk_user_id]"))
				fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.example/cs_1"}`)
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		session, err := p.CreateCheckoutSession(context.Background(), subscription.CheckoutParams{
			UserID:     "user_1",
			Email:      "jane@example.com",
			PriceID:    "price_pro",
			SuccessURL: "https://app.example/dashboard/billing?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "https://app.example/dashboard/billing",
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", session.ID)
		assert.Equal(t, "https://checkout.example/cs_1", session.URL)
	})

	t.Run("checkout reuses existing customer", func(t *testing.T) {
		t.Parallel()
		p := newStripeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
				fmt.Fprint(w, `{"object":"list","data":[{"id":"cus_existing","object":"customer"}],"has_more":false,"url":"/v1/customers"}`)
			case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
				assert.Equal(t, "cus_existing", r.Form.Get("customer"))
				fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.example/cs_1"}`)
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		_, err := p.CreateCheckoutSession(context.Background(), subscription.CheckoutParams{
			UserID: "user_1", Email: "jane@example.com", PriceID: "price_pro",
		})
		require.NoError(t, err)
	})

	t.Run("portal session", func(t *testing.T) {
		t.Parallel()
		p := newStripeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
			assert.Equal(t, "cus_1", r.Form.Get("customer"))
			assert.Equal(t, "https://app.example/dashboard/billing", r.Form.Get("return_url"))
			fmt.Fprint(w, `{"id":"bps_1","object":"billing_portal.session","url":"https://portal.example/bps_1"}`)
		}))

		portal, err := p.CreatePortalSession(context.Background(), "cus_1", "https://app.example/dashboard/billing")
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example/bps_1", portal.URL)
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		p := newStripeProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"bad"}}`)
		}))

		_, err := p.CreatePortalSession(context.Background(), "cus_1", "https://app.example")
		assert.Error(t, err)
	})
}
