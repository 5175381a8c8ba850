package billing

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/routepolicy"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// Route patterns, relative to the mount point.
const (
	PathPlans           = "/plans/"
	PathPlan            = "/plans/{plan_id}"
	PathCheckout        = "/subscription/checkout"
	PathCurrent         = "/subscription/current"
	PathPortalSession   = "/subscription/portal-session"
	PathUpdateMetadata  = "/subscription/update-metadata"
	PathWebhookProvider = "/webhook/provider"
	PathWebhookStripe   = "/webhook/stripe"
)

// Rules is the route policy table of the billing API.
func Rules(cfg Config) []routepolicy.Rule {
	return []routepolicy.Rule{
		{Method: http.MethodGet, Pattern: PathPlans, CacheTTL: cfg.PlansCacheTTL, CacheKey: plansKey, Class: routepolicy.ClassPublic},
		{Method: http.MethodGet, Pattern: PathPlan, CacheTTL: cfg.PlansCacheTTL, CacheKey: planKey, Class: routepolicy.ClassPublic},
		{Method: http.MethodPost, Pattern: PathCheckout, Class: routepolicy.ClassAuth},
		{Method: http.MethodGet, Pattern: PathCurrent, CacheTTL: cfg.SubscriptionCacheTTL, CacheKey: currentSubscriptionKey, Class: routepolicy.ClassAPI},
		{Method: http.MethodGet, Pattern: PathPortalSession, Class: routepolicy.ClassAuth},
		{Method: http.MethodPost, Pattern: PathUpdateMetadata, Class: routepolicy.ClassAuth},
		{Method: http.MethodPost, Pattern: PathWebhookProvider, Class: routepolicy.ClassWebhook},
		{Method: http.MethodPost, Pattern: PathWebhookStripe, Class: routepolicy.ClassWebhook},
	}
}

func plansKey(*http.Request) string {
	return subscription.PlansListCacheKey
}

func planKey(r *http.Request) string {
	id, err := strconv.ParseInt(chi.URLParam(r, "plan_id"), 10, 64)
	if err != nil {
		return ""
	}
	return subscription.PlanDetailCacheKey(id)
}

func currentSubscriptionKey(r *http.Request) string {
	userID := jwt.UserIDFromContext(r.Context())
	if userID == "" {
		return ""
	}
	return subscription.CurrentSubscriptionCacheKey(userID)
}
