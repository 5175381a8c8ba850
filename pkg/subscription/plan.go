package subscription

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Plan is a catalog entry. Plans are read-only to this package.
type Plan struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	Features          []string        `json:"features"`
	ExternalPriceID   string          `json:"stripe_price_id"`
	ExternalProductID string          `json:"stripe_product_id"`
	BillingInterval   string          `json:"billing_interval"`
	IsActive          bool            `json:"is_active"`
}

// Purchasable reports whether a checkout can be opened for the plan.
func (p *Plan) Purchasable() error {
	if !p.IsActive {
		return fmt.Errorf("%w: plan %d is not active", ErrPlanNotFound, p.ID)
	}
	if p.ExternalPriceID == "" {
		return fmt.Errorf("%w: plan %d", ErrPlanNotPurchasable, p.ID)
	}
	return nil
}

// PlanCatalog reads plans. ListPlans returns active plans only; the single
// lookups also return retired plans so existing subscribers keep resolving.
// Lookups return ErrPlanNotFound when absent.
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]Plan, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	GetPlanByPriceID(ctx context.Context, priceID string) (*Plan, error)
}
