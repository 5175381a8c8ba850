package subscription

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// MemoryStore is an in-process subscription.Store. It enforces the same
// uniqueness as the SQL schema: one row per user, and external customer and
// subscription ids owned by at most one user.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]*subscription.Subscription
	nextID int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]*subscription.Subscription),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) FindByUserID(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.rows[userID]; ok {
		return row.Clone(), nil
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (s *MemoryStore) FindByCustomerID(_ context.Context, customerID string) (*subscription.Subscription, error) {
	return s.findBy(func(row *subscription.Subscription) bool {
		return customerID != "" && row.ExternalCustomerID == customerID
	})
}

func (s *MemoryStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*subscription.Subscription, error) {
	return s.findBy(func(row *subscription.Subscription) bool {
		return subscriptionID != "" && row.ExternalSubscriptionID == subscriptionID
	})
}

func (s *MemoryStore) findBy(match func(*subscription.Subscription) bool) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if match(row) {
			return row.Clone(), nil
		}
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (s *MemoryStore) Upsert(ctx context.Context, userID string, fn subscription.MutateFunc) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrValidation
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	current := s.rows[userID].Clone()
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next = next.Clone()
	next.UserID = userID

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(userID, next); err != nil {
		return nil, err
	}
	if current == nil {
		s.nextID++
		next.ID = s.nextID
	} else {
		next.ID = current.ID
	}
	s.rows[userID] = next
	return next.Clone(), nil
}

// checkUnique rejects external ids already owned by another user. Callers
// hold s.mu.
func (s *MemoryStore) checkUnique(userID string, next *subscription.Subscription) error {
	for owner, row := range s.rows {
		if owner == userID {
			continue
		}
		if next.ExternalCustomerID != "" && row.ExternalCustomerID == next.ExternalCustomerID {
			return fmt.Errorf("%w: customer %s belongs to another user", subscription.ErrStoreConflict, next.ExternalCustomerID)
		}
		if next.ExternalSubscriptionID != "" && row.ExternalSubscriptionID == next.ExternalSubscriptionID {
			return fmt.Errorf("%w: subscription %s belongs to another user", subscription.ErrStoreConflict, next.ExternalSubscriptionID)
		}
	}
	return nil
}

// MarkMetadataSynced takes the user's row lock so a concurrent Upsert cannot
// write back a copy read before the mark.
func (s *MemoryStore) MarkMetadataSynced(_ context.Context, userID string, at time.Time) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	row.LastMetadataSync = &at
	return nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// MemoryCatalog is a read-only subscription.PlanCatalog over a fixed set of
// plans. It keeps deep copies so callers cannot mutate its state.
type MemoryCatalog struct {
	plans []subscription.Plan
}

func NewMemoryCatalog(plans ...subscription.Plan) *MemoryCatalog {
	c := &MemoryCatalog{plans: make([]subscription.Plan, 0, len(plans))}
	for _, p := range plans {
		c.plans = append(c.plans, clonePlan(p))
	}
	return c
}

// ListPlans returns active plans ordered by price.
func (c *MemoryCatalog) ListPlans(context.Context) ([]subscription.Plan, error) {
	out := make([]subscription.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.IsActive {
			out = append(out, clonePlan(p))
		}
	}
	slices.SortStableFunc(out, func(a, b subscription.Plan) int {
		return a.Price.Cmp(b.Price)
	})
	return out, nil
}

// GetPlan returns the plan whether or not it is active.
func (c *MemoryCatalog) GetPlan(_ context.Context, id int64) (*subscription.Plan, error) {
	for _, p := range c.plans {
		if p.ID == id {
			plan := clonePlan(p)
			return &plan, nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}

func (c *MemoryCatalog) GetPlanByPriceID(_ context.Context, priceID string) (*subscription.Plan, error) {
	for _, p := range c.plans {
		if priceID != "" && p.ExternalPriceID == priceID {
			plan := clonePlan(p)
			return &plan, nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}

func clonePlan(p subscription.Plan) subscription.Plan {
	p.Features = slices.Clone(p.Features)
	return p
}

var (
	_ subscription.Store       = (*MemoryStore)(nil)
	_ subscription.PlanCatalog = (*MemoryCatalog)(nil)
)
