package subscription

import "time"

// Kind tags the variant of an Event.
type Kind string

const (
	KindSubscriptionCreated Kind = "subscription_created"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindUnhandled           Kind = "unhandled"
)

// Event is a provider event decoded into one of the variants below. The set
// is closed: only this package implements it.
type Event interface {
	Kind() Kind
	Source() EventMeta
	isEvent()
}

// EventMeta identifies the delivery an event came from.
type EventMeta struct {
	ID       string
	Type     string
	Provider string
}

// Cancellation is the provider's cancellation intent. A nil At means no
// cancellation is pending.
type Cancellation struct {
	At          *time.Time
	AtPeriodEnd bool
}

// Change is the canonical change descriptor. Pointer fields are nil when the
// event carried no value for them.
type Change struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	// UserID comes from provider metadata first and the store second.
	UserID       string
	PriceID      *string
	Status       *Status
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
	TrialStart   *time.Time
	TrialEnd     *time.Time
	Cancellation *Cancellation
	CanceledAt   *time.Time
	EndedAt      *time.Time
}

type SubscriptionCreated struct {
	EventMeta
	Change
}

type SubscriptionUpdated struct {
	EventMeta
	Change
}

type SubscriptionDeleted struct {
	EventMeta
	Change
}

// CheckoutCompleted only references the subscription; the reconciler fetches
// the full state from the provider.
type CheckoutCompleted struct {
	EventMeta
	SessionID              string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	UserID                 string
}

// Unhandled is any event type this service does not act on.
type Unhandled struct {
	EventMeta
}

func (*SubscriptionCreated) Kind() Kind { return KindSubscriptionCreated }
func (*SubscriptionUpdated) Kind() Kind { return KindSubscriptionUpdated }
func (*SubscriptionDeleted) Kind() Kind { return KindSubscriptionDeleted }
func (*CheckoutCompleted) Kind() Kind   { return KindCheckoutCompleted }
func (*Unhandled) Kind() Kind           { return KindUnhandled }

func (e *SubscriptionCreated) Source() EventMeta { return e.EventMeta }
func (e *SubscriptionUpdated) Source() EventMeta { return e.EventMeta }
func (e *SubscriptionDeleted) Source() EventMeta { return e.EventMeta }
func (e *CheckoutCompleted) Source() EventMeta   { return e.EventMeta }
func (e *Unhandled) Source() EventMeta           { return e.EventMeta }

func (*SubscriptionCreated) isEvent() {}
func (*SubscriptionUpdated) isEvent() {}
func (*SubscriptionDeleted) isEvent() {}
func (*CheckoutCompleted) isEvent()   {}
func (*Unhandled) isEvent()           {}

// descriptor returns the change carried by subscription variants.
func descriptor(ev Event) *Change {
	switch e := ev.(type) {
	case *SubscriptionCreated:
		return &e.Change
	case *SubscriptionUpdated:
		return &e.Change
	case *SubscriptionDeleted:
		return &e.Change
	default:
		return nil
	}
}
