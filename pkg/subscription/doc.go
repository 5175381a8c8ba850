// Package subscription reconciles payment-provider webhook events into a
// single subscription row per user and serves the billing read paths.
//
// An inbound webhook flows through:
//
//	Ingress      verify signature, drive the per-event state machine
//	Normalizer   provider payload -> typed Event, resolve the owning user
//	Reconciler   Event -> transactional upsert keyed by user id
//	Invalidator  evict the cached current-subscription projection
//	Dispatcher   project the row into identity-provider metadata, async
//
// Provider payloads are decoded once, at the provider adapter, into one of
// SubscriptionCreated, SubscriptionUpdated, SubscriptionDeleted,
// CheckoutCompleted or Unhandled. Each subscription variant carries a Change
// whose optional fields are nil when the event did not say anything about
// them; the Reconciler writes only what is present.
//
// The cancellation triple (cancel_at, cancel_at_period_end and the scheduled
// change type/date) is always written as a unit: either every field is set or
// every field is cleared.
//
// Service exposes the request-driven operations: plan listing, checkout and
// portal sessions, the current-subscription read and a manual metadata resync.
package subscription
