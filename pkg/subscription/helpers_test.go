package subscription_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	store "github.com/dmitrymomot/saasbilling/svc/subscription"
)

var (
	fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	errBoom  = errors.New("boom")
)

func fixedClock() time.Time { return fixedNow }

func ptr[T any](v T) *T { return &v }

func unix(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func testCatalog() *store.MemoryCatalog {
	return store.NewMemoryCatalog(
		subscription.Plan{ID: 1, Name: "Starter", Price: decimal.NewFromInt(9), ExternalPriceID: "price_starter", IsActive: true},
		subscription.Plan{ID: 2, Name: "Pro", Price: decimal.NewFromInt(29), ExternalPriceID: "price_pro", IsActive: true},
		subscription.Plan{ID: 3, Name: "Legacy", Price: decimal.NewFromInt(5), ExternalPriceID: "price_legacy"},
		subscription.Plan{ID: 4, Name: "Unpriced", Price: decimal.NewFromInt(0), IsActive: true},
	)
}

// failingCatalog fails every price lookup.
type failingCatalog struct {
	*store.MemoryCatalog
}

func (failingCatalog) GetPlanByPriceID(context.Context, string) (*subscription.Plan, error) {
	return nil, errBoom
}

// failingStore fails every write.
type failingStore struct {
	*store.MemoryStore
	err error
}

func (s failingStore) Upsert(context.Context, string, subscription.MutateFunc) (*subscription.Subscription, error) {
	return nil, s.err
}

// fetcherFunc adapts a function to subscription.SubscriptionFetcher.
type fetcherFunc func(ctx context.Context, id string) (*subscription.Change, error)

func (f fetcherFunc) FetchSubscription(ctx context.Context, id string) (*subscription.Change, error) {
	return f(ctx, id)
}

var noFetch = fetcherFunc(func(context.Context, string) (*subscription.Change, error) {
	return nil, errors.New("unexpected fetch")
})

// recordingEnqueuer captures rows handed to Metadata Sync.
type recordingEnqueuer struct {
	mu   sync.Mutex
	subs []*subscription.Subscription
	err  error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	return r.err
}

func (r *recordingEnqueuer) calls() []*subscription.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*subscription.Subscription(nil), r.subs...)
}

type mockMetadataWriter struct {
	mock.Mock
}

func (m *mockMetadataWriter) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]string) error {
	args := m.Called(ctx, userID, metadata)
	return args.Error(0)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) SignatureHeader() string { return "X-Signature" }

func (m *mockProvider) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*subscription.Envelope, error) {
	args := m.Called(ctx, payload, header)
	env, _ := args.Get(0).(*subscription.Envelope)
	return env, args.Error(1)
}

func (m *mockProvider) DecodeEvent(env *subscription.Envelope) (subscription.Event, error) {
	args := m.Called(env)
	ev, _ := args.Get(0).(subscription.Event)
	return ev, args.Error(1)
}

func (m *mockProvider) FetchSubscription(ctx context.Context, id string) (*subscription.Change, error) {
	args := m.Called(ctx, id)
	ch, _ := args.Get(0).(*subscription.Change)
	return ch, args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params subscription.CheckoutParams) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, params)
	s, _ := args.Get(0).(*subscription.CheckoutSession)
	return s, args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*subscription.PortalSession, error) {
	args := m.Called(ctx, customerID, returnURL)
	s, _ := args.Get(0).(*subscription.PortalSession)
	return s, args.Error(1)
}
