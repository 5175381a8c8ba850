package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// SubscriptionLookup is the read-only part of Store the Normalizer needs.
type SubscriptionLookup interface {
	FindByCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Normalizer decodes verified envelopes and resolves the owning user:
// provider metadata first, then the stored row (by customer id for creation
// and checkout, by subscription id for update and deletion). Events whose
// owner cannot be resolved fail with ErrUnresolvedUser.
type Normalizer struct {
	decoder EventDecoder
	lookup  SubscriptionLookup
	options
}

func NewNormalizer(decoder EventDecoder, lookup SubscriptionLookup, opts ...Option) *Normalizer {
	return &Normalizer{
		decoder: decoder,
		lookup:  lookup,
		options: newOptions("normalizer", opts),
	}
}

func (n *Normalizer) Normalize(ctx context.Context, env *Envelope) (Event, error) {
	ev, err := n.decoder.DecodeEvent(env)
	if err != nil {
		return nil, err
	}

	switch e := ev.(type) {
	case *CheckoutCompleted:
		e.UserID, err = n.resolve(ctx, e.UserID, n.lookup.FindByCustomerID, e.ExternalCustomerID)
	case *SubscriptionCreated:
		e.UserID, err = n.resolve(ctx, e.UserID, n.lookup.FindByCustomerID, e.ExternalCustomerID)
	case *SubscriptionUpdated:
		e.UserID, err = n.resolve(ctx, e.UserID, n.lookup.FindBySubscriptionID, e.ExternalSubscriptionID)
	case *SubscriptionDeleted:
		e.UserID, err = n.resolve(ctx, e.UserID, n.lookup.FindBySubscriptionID, e.ExternalSubscriptionID)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (n *Normalizer) resolve(
	ctx context.Context,
	fromMetadata string,
	find func(context.Context, string) (*Subscription, error),
	key string,
) (string, error) {
	if fromMetadata != "" {
		return fromMetadata, nil
	}
	if key == "" {
		return "", ErrUnresolvedUser
	}

	sub, err := find(ctx, key)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return "", fmt.Errorf("%w: no subscription row for %q", ErrUnresolvedUser, key)
	case err != nil:
		return "", fmt.Errorf("%w: resolve event owner: %w", ErrRetry, err)
	}

	n.log.DebugContext(ctx, "event owner resolved from store", logger.UserID(sub.UserID))
	return sub.UserID, nil
}
