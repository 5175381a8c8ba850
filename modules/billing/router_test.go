package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/modules/billing"
	"github.com/dmitrymomot/saasbilling/pkg/cache"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/saasbilling/pkg/routepolicy"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	store "github.com/dmitrymomot/saasbilling/svc/subscription"
)

const prefix = "/api/v1/billing"

type fixture struct {
	handler  http.Handler
	store    *store.MemoryStore
	provider *fakeProvider
	writer   *fakeWriter
	tokens   *jwt.HMACService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	plans := store.NewMemoryCatalog(
		subscription.Plan{ID: 1, Name: "Starter", Price: decimal.RequireFromString("9.99"), ExternalPriceID: "price_starter", IsActive: true, Features: []string{"1 project"}},
		subscription.Plan{ID: 2, Name: "Pro", Price: decimal.NewFromInt(29), ExternalPriceID: "price_pro", IsActive: true},
		subscription.Plan{ID: 3, Name: "Legacy", Price: decimal.NewFromInt(5), ExternalPriceID: "price_legacy"},
		subscription.Plan{ID: 4, Name: "Unpriced", Price: decimal.NewFromInt(0), IsActive: true},
	)
	provider := &fakeProvider{}
	writer := &fakeWriter{}
	c := cache.NewMemoryStore(64)

	svc := subscription.NewService(st, plans, provider,
		subscription.NewMetadataSync(writer, st, plans, time.Second),
		subscription.ServiceConfig{FrontendURL: "https://app.example.com"},
	)
	ingress := subscription.NewIngress(provider.Name(), provider,
		subscription.NewNormalizer(provider, st),
		subscription.NewReconciler(st, plans, provider, subscription.ReconcilerConfig{}),
		subscription.NewCacheInvalidator(c),
		nopEnqueuer{},
	)

	cfg := billing.Config{
		WebhookBodyLimit:     1024,
		PlansCacheTTL:        time.Hour,
		SubscriptionCacheTTL: 5 * time.Minute,
	}
	limiters, err := routepolicy.NewLimiters(ratelimiter.NewMemoryStore(), routepolicy.DefaultClasses)
	require.NoError(t, err)
	policy, err := routepolicy.New(billing.Rules(cfg), routepolicy.WithCache(c), routepolicy.WithLimiters(limiters))
	require.NoError(t, err)

	tokens, err := jwt.NewHMACService([]byte("test-secret"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount(prefix, billing.Router(billing.RouterOptions{
		Service: svc,
		Ingress: ingress,
		Auth:    jwt.Middleware(tokens),
		Policy:  policy,
		Config:  cfg,
	}))

	return &fixture{handler: r, store: st, provider: provider, writer: writer, tokens: tokens}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	claims := &jwt.Claims{Email: userID + "@example.com"}
	claims.Subject = userID
	claims.ExpiresAt = gojwt.NewNumericDate(time.Now().Add(time.Hour))
	tok, err := f.tokens.Generate(claims)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, prefix+path, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed(t *testing.T, userID string, status subscription.Status) {
	t.Helper()
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.store.Upsert(context.Background(), userID, func(*subscription.Subscription) (*subscription.Subscription, error) {
		planID := int64(2)
		return &subscription.Subscription{
			ExternalCustomerID:     "cus_" + userID,
			ExternalSubscriptionID: "sub_" + userID,
			PlanID:                 &planID,
			Status:                 status,
			CurrentPeriodEnd:       &end,
		}, nil
	})
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["detail"].(string)
}

func webhookBody(t *testing.T, eventType string, data map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"id": "evt_1", "type": eventType, "data": data})
	require.NoError(t, err)
	return b
}

func signed() http.Header {
	return http.Header{fakeSignatureHeader: []string{"valid"}}
}

func TestPlans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/plans/", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[[]billing.PlanResponse](t, rec)
	require.Len(t, plans, 3)
	assert.Equal(t, "Unpriced", plans[0].Name)
	assert.Equal(t, []string{"1 project"}, plans[1].Features)
	assert.Equal(t, "9.99", plans[1].Price.String())
	assert.Contains(t, rec.Body.String(), `"price":9.99`)
	assert.Equal(t, "price_pro", plans[2].StripePriceID)
	assert.Equal(t, []string{}, plans[2].Features)

	again := f.do(t, http.MethodGet, "/plans/", "", nil, nil)
	assert.Equal(t, "HIT", again.Header().Get("X-Cache"))
	assert.JSONEq(t, rec.Body.String(), again.Body.String())

	t.Run("single plan", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/plans/2", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Pro", decode[billing.PlanResponse](t, rec).Name)
	})

	t.Run("retired plan", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/plans/3", "", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Plan not found", detail(t, rec))
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/plans/abc", "", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/subscription/checkout", "", []byte(`{"plan_id":2}`), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns checkout url", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/subscription/checkout", f.token(t, "user_1"), []byte(`{"plan_id":2}`), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "https://pay.example.com/cs_1", decode[billing.CheckoutResponse](t, rec).CheckoutURL)

		calls := f.provider.checkoutCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "user_1", calls[0].UserID)
		assert.Equal(t, "user_1@example.com", calls[0].Email)
		assert.Equal(t, "price_pro", calls[0].PriceID)
		assert.Equal(t, "https://app.example.com/dashboard/billing?session_id={CHECKOUT_SESSION_ID}", calls[0].SuccessURL)
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{"unknown plan", `{"plan_id":99}`, http.StatusBadRequest, "Invalid plan selected"},
		{"retired plan", `{"plan_id":3}`, http.StatusBadRequest, "Invalid plan selected"},
		{"plan without price", `{"plan_id":4}`, http.StatusBadRequest, "Plan is missing payment configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/subscription/checkout", f.token(t, "user_1"), []byte(tt.body), nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDetail, detail(t, rec))
		})
	}

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.checkoutErr = errors.New("card network down")
		rec := f.do(t, http.MethodPost, "/subscription/checkout", f.token(t, "user_1"), []byte(`{"plan_id":2}`), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to create checkout session", detail(t, rec))
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		tok := f.token(t, "user_1")
		for range 10 {
			rec := f.do(t, http.MethodPost, "/subscription/checkout", tok, []byte(`{"plan_id":2}`), nil)
			require.Equal(t, http.StatusOK, rec.Code)
		}
		rec := f.do(t, http.MethodPost, "/subscription/checkout", tok, []byte(`{"plan_id":2}`), nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "Too many requests", detail(t, rec))
	})
}

func TestCurrentSubscription(t *testing.T) {
	t.Parallel()

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/subscription/current", f.token(t, "user_1"), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "No active subscription found", detail(t, rec))
	})

	t.Run("canceled is not found", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seed(t, "user_1", subscription.StatusCanceled)
		rec := f.do(t, http.MethodGet, "/subscription/current", f.token(t, "user_1"), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("webhook invalidates cached read", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seed(t, "user_1", subscription.StatusActive)
		tok := f.token(t, "user_1")

		rec := f.do(t, http.MethodGet, "/subscription/current", tok, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		sub := decode[billing.SubscriptionResponse](t, rec)
		assert.Equal(t, "active", sub.Status)
		assert.Equal(t, "cus_user_1", sub.StripeCustomerID)
		assert.Equal(t, "sub_user_1", sub.StripeSubscriptionID)
		assert.Equal(t, "HIT", f.do(t, http.MethodGet, "/subscription/current", tok, nil, nil).Header().Get("X-Cache"))

		body := webhookBody(t, "subscription.updated", map[string]any{
			"id": "sub_user_1", "customer": "cus_user_1", "status": "past_due",
		})
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/webhook/provider", "", body, signed()).Code)

		rec = f.do(t, http.MethodGet, "/subscription/current", tok, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
		assert.Equal(t, "past_due", decode[billing.SubscriptionResponse](t, rec).Status)
	})
}

func TestPortalSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "user_1", subscription.StatusActive)

	rec := f.do(t, http.MethodGet, "/subscription/portal-session", f.token(t, "user_1"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://portal.example.com/cus_user_1", decode[billing.PortalResponse](t, rec).BillingPortalURL)

	rec = f.do(t, http.MethodGet, "/subscription/portal-session", f.token(t, "user_2"), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateMetadata(t *testing.T) {
	t.Parallel()

	t.Run("writes projection", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seed(t, "user_1", subscription.StatusActive)

		rec := f.do(t, http.MethodPost, "/subscription/update-metadata", f.token(t, "user_1"), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Metadata updated successfully", decode[billing.MessageResponse](t, rec).Message)

		meta, ok := f.writer.written("user_1")
		require.True(t, ok)
		assert.Equal(t, "active", meta[subscription.MetaStatus])
		assert.Equal(t, "Pro", meta[subscription.MetaPlan])
		assert.Equal(t, "2024-04-01T00:00:00Z", meta[subscription.MetaEnd])
	})

	t.Run("no subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/subscription/update-metadata", f.token(t, "user_1"), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("identity provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seed(t, "user_1", subscription.StatusActive)
		f.writer.err = errors.New("unavailable")

		rec := f.do(t, http.MethodPost, "/subscription/update-metadata", f.token(t, "user_1"), nil, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to update metadata", detail(t, rec))
	})
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	body := webhookBody(t, "subscription.updated", map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active", "user_id": "user_42",
	})

	t.Run("acknowledges and stores", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", body, signed())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

		sub, err := f.store.FindByUserID(context.Background(), "user_42")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
	})

	t.Run("stripe alias", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/stripe", "", body, signed())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown event type", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", webhookBody(t, "invoice.paid", nil), signed())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, f.store.Len())
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "signature header missing", detail(t, rec))
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", body, http.Header{fakeSignatureHeader: []string{"forged"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.store.Len())
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", []byte(`{not json`), signed())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		large := []byte(`{"id":"evt_1","type":"x","data":"` + strings.Repeat("a", 2048) + `"}`)
		rec := f.do(t, http.MethodPost, "/webhook/provider", "", large, signed())
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("not rate limited", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		for range 15 {
			rec := f.do(t, http.MethodPost, "/webhook/provider", "", body, signed())
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestRouterRequiresOptions(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { billing.Router(billing.RouterOptions{}) })
}
