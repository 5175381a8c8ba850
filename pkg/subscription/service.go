package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

type ServiceConfig struct {
	FrontendURL     string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

// CheckoutRequest is a user's request to subscribe to a plan. Email comes
// from the verified token, never from the request body.
type CheckoutRequest struct {
	UserID string
	Email  string
	PlanID int64
}

// Service implements the user-facing billing operations.
type Service struct {
	store    Store
	plans    PlanCatalog
	provider Provider
	metadata *MetadataSync
	cfg      ServiceConfig
	options
}

func NewService(store Store, plans PlanCatalog, provider Provider, metadata *MetadataSync, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Service{
		store:    store,
		plans:    plans,
		provider: provider,
		metadata: metadata,
		cfg:      cfg,
		options:  newOptions("billing_service", opts),
	}
}

// ListPlans returns the active plans.
func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	plans, err := s.plans.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// GetPlan returns an active plan. Retired plans are reported as not found.
func (s *Service) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	plan, err := s.plans.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get plan %d: %w", id, err)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %d is not active", ErrPlanNotFound, id)
	}
	return plan, nil
}

// CreateCheckout opens a provider checkout session for an active,
// purchasable plan. Plan problems wrap ErrValidation; provider failures wrap
// ErrExternalProvider.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	case err != nil:
		return nil, fmt.Errorf("get plan %d: %w", req.PlanID, err)
	}
	if err := plan.Purchasable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		UserID:     req.UserID,
		Email:      req.Email,
		PriceID:    plan.ExternalPriceID,
		SuccessURL: s.cfg.FrontendURL + "/dashboard/billing?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.FrontendURL + "/dashboard/billing",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrExternalProvider, err)
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.UserID(req.UserID),
		logger.PriceID(plan.ExternalPriceID),
	)
	return session, nil
}

// CurrentSubscription returns the user's subscription unless there is none
// or it is canceled, in which case it returns ErrSubscriptionNotFound.
func (s *Service) CurrentSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if sub.IsCanceled() {
		return nil, fmt.Errorf("%w: subscription is canceled", ErrSubscriptionNotFound)
	}
	return sub, nil
}

// PortalSession opens the provider's self-service billing portal for the
// user's current subscription.
func (s *Service) PortalSession(ctx context.Context, userID string) (*PortalSession, error) {
	sub, err := s.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.ExternalCustomerID == "" {
		return nil, fmt.Errorf("%w: subscription has no customer", ErrSubscriptionNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	portal, err := s.provider.CreatePortalSession(ctx, sub.ExternalCustomerID, s.cfg.FrontendURL+"/dashboard/billing")
	if err != nil {
		return nil, fmt.Errorf("%w: create portal session: %w", ErrExternalProvider, err)
	}
	return portal, nil
}

// ResyncMetadata writes the stored subscription, canceled or not, to the
// identity provider synchronously.
func (s *Service) ResyncMetadata(ctx context.Context, userID string) error {
	sub, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find subscription: %w", err)
	}
	if err := s.metadata.Sync(ctx, sub); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "metadata resynced", logger.UserID(userID))
	return nil
}
