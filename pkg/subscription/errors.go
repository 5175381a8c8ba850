package subscription

import "errors"

var (
	// ErrValidation marks bad caller input. Surfaces as a 4xx, never retried.
	ErrValidation = errors.New("subscription: validation failed")
	// ErrExternalProvider marks a failed payment or identity provider call.
	ErrExternalProvider = errors.New("subscription: external provider call failed")
	// ErrUnresolvedUser means the owning user of an event could not be found.
	// The event is acknowledged and dropped.
	ErrUnresolvedUser = errors.New("subscription: event owner could not be resolved")
	// ErrStoreConflict is a concurrent write on the same user row that
	// outlived the store's retries.
	ErrStoreConflict = errors.New("subscription: concurrent update conflict")
	ErrSignatureInvalid = errors.New("subscription: webhook signature invalid")
	ErrMalformedEvent   = errors.New("subscription: malformed webhook event")
	// ErrRetry asks the provider to redeliver the event.
	ErrRetry = errors.New("subscription: recoverable failure, retry")

	ErrSubscriptionNotFound = errors.New("subscription: subscription not found")
	ErrPlanNotFound         = errors.New("subscription: plan not found")
	ErrPlanNotPurchasable   = errors.New("subscription: plan is missing payment configuration")

	// ErrTerminalState is returned by a mutation that would resurrect a
	// canceled subscription.
	ErrTerminalState = errors.New("subscription: subscription is canceled")
	// ErrStaleEvent is returned for events about a subscription the user no
	// longer holds.
	ErrStaleEvent = errors.New("subscription: event refers to a replaced subscription")

	ErrMissingAPIKey        = errors.New("subscription: provider API key is required")
	ErrMissingWebhookSecret = errors.New("subscription: provider webhook secret is required")
	ErrMissingSignature     = errors.New("subscription: signature header missing")
	ErrNoCheckoutURL        = errors.New("subscription: no checkout URL returned from provider")
	ErrNoPortalURL          = errors.New("subscription: no portal URL returned from provider")
)
