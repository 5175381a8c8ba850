package billing

import (
	"encoding/json"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// PlanResponse renders the price as an exact JSON number.
type PlanResponse struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Price           json.Number `json:"price"`
	Features        []string    `json:"features"`
	StripePriceID   string      `json:"stripe_price_id"`
	StripeProductID string      `json:"stripe_product_id"`
	BillingInterval string      `json:"billing_interval"`
	IsActive        bool        `json:"is_active"`
}

func newPlanResponse(p subscription.Plan) PlanResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return PlanResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           json.Number(p.Price.String()),
		Features:        features,
		StripePriceID:   p.ExternalPriceID,
		StripeProductID: p.ExternalProductID,
		BillingInterval: p.BillingInterval,
		IsActive:        p.IsActive,
	}
}

// SubscriptionResponse keeps the provider-prefixed field names existing
// clients read.
type SubscriptionResponse struct {
	ID                   int64      `json:"id"`
	UserID               string     `json:"user_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	PlanID               *int64     `json:"plan_id"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CancelAt             *time.Time `json:"cancel_at"`
	TrialStart           *time.Time `json:"trial_start"`
	TrialEnd             *time.Time `json:"trial_end"`
	ScheduledChangeType  *string    `json:"scheduled_change_type"`
	ScheduledChangeDate  *time.Time `json:"scheduled_change_date"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func newSubscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:                   s.ID,
		UserID:               s.UserID,
		StripeCustomerID:     s.ExternalCustomerID,
		StripeSubscriptionID: s.ExternalSubscriptionID,
		PlanID:               s.PlanID,
		Status:               string(s.Status),
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		CancelAt:             s.CancelAt,
		TrialStart:           s.TrialStart,
		TrialEnd:             s.TrialEnd,
		ScheduledChangeDate:  s.ScheduledChangeDate,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.ScheduledChangeType != nil {
		t := string(*s.ScheduledChangeType)
		resp.ScheduledChangeType = &t
	}
	return resp
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type PortalResponse struct {
	BillingPortalURL string `json:"billing_portal_url"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
