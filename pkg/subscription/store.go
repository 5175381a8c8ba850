package subscription

import (
	"context"
	"time"
)

// MutateFunc computes the next row from the current one. current is nil when
// the user has no row yet. Returning an error aborts the write.
type MutateFunc func(current *Subscription) (*Subscription, error)

// Store persists one subscription per user.
//
// Upsert must serialize concurrent calls for the same user (row lock or
// equivalent) while letting different users proceed in parallel, and must
// never leave two rows for one user. Lookups return ErrSubscriptionNotFound
// when nothing matches.
type Store interface {
	FindByUserID(ctx context.Context, userID string) (*Subscription, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)
	Upsert(ctx context.Context, userID string, fn MutateFunc) (*Subscription, error)
	MarkMetadataSynced(ctx context.Context, userID string, at time.Time) error
}
