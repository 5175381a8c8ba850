package subscription

import "time"

// Subscription is a user's current subscription relationship. There is at
// most one row per user.
type Subscription struct {
	ID                     int64
	UserID                 string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	PlanID                 *int64
	Status                 Status
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	CancelAt               *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	ScheduledChangeType    *ScheduledChangeType
	ScheduledChangeDate    *time.Time
	ScheduledPlanID        *int64
	CanceledAt             *time.Time
	EndedAt                *time.Time
	LastMetadataSync       *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *Subscription) IsCanceled() bool {
	return s.Status.IsTerminal()
}

// IsCancelling reports whether a cancellation is scheduled.
func (s *Subscription) IsCancelling() bool {
	return s.CancelAt != nil
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.PlanID = clonePtr(s.PlanID)
	c.CurrentPeriodStart = clonePtr(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = clonePtr(s.CurrentPeriodEnd)
	c.CancelAt = clonePtr(s.CancelAt)
	c.TrialStart = clonePtr(s.TrialStart)
	c.TrialEnd = clonePtr(s.TrialEnd)
	c.ScheduledChangeType = clonePtr(s.ScheduledChangeType)
	c.ScheduledChangeDate = clonePtr(s.ScheduledChangeDate)
	c.ScheduledPlanID = clonePtr(s.ScheduledPlanID)
	c.CanceledAt = clonePtr(s.CanceledAt)
	c.EndedAt = clonePtr(s.EndedAt)
	c.LastMetadataSync = clonePtr(s.LastMetadataSync)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
