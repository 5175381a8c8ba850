package subscription

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

const (
	PlansListCacheKey = "billing:plans:list"
	planDetailPrefix  = "billing:plans:detail:"
	currentSubPrefix  = "billing:subscription:current:"
)

// CurrentSubscriptionCacheKey is where the current-subscription read is cached.
func CurrentSubscriptionCacheKey(userID string) string {
	return currentSubPrefix + userID
}

func PlanDetailCacheKey(planID int64) string {
	return planDetailPrefix + strconv.FormatInt(planID, 10)
}

// CacheDeleter is the eviction half of a cache. pkg/cache stores implement it.
type CacheDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// CacheInvalidator evicts read-path entries after committed writes. The next
// read recomputes and repopulates them.
type CacheInvalidator struct {
	cache CacheDeleter
	options
}

func NewCacheInvalidator(cache CacheDeleter, opts ...Option) *CacheInvalidator {
	return &CacheInvalidator{cache: cache, options: newOptions("cache_invalidator", opts)}
}

// InvalidateUser evicts the user's current-subscription entry.
func (c *CacheInvalidator) InvalidateUser(ctx context.Context, userID string) error {
	if err := c.cache.Delete(ctx, CurrentSubscriptionCacheKey(userID)); err != nil {
		return fmt.Errorf("invalidate subscription cache: %w", err)
	}
	c.log.DebugContext(ctx, "subscription cache invalidated", logger.UserID(userID))
	return nil
}

// InvalidatePlans evicts the plan list and the detail entries of ids.
func (c *CacheInvalidator) InvalidatePlans(ctx context.Context, ids ...int64) error {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, PlansListCacheKey)
	for _, id := range ids {
		keys = append(keys, PlanDetailCacheKey(id))
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate plan cache: %w", err)
	}
	return nil
}
