package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/routepolicy"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// RouterOptions carries the handles the billing routes need. Service,
// Ingress, Auth and Policy are required.
type RouterOptions struct {
	Service *subscription.Service
	Ingress *subscription.Ingress
	// Auth verifies the bearer token and stores the claims in the context.
	Auth   func(http.Handler) http.Handler
	Policy *routepolicy.Table
	Config Config
	Logger *slog.Logger
}

// Router builds the billing routes. It panics when a required option is
// missing or a route has no policy rule.
func Router(opts RouterOptions) chi.Router {
	switch {
	case opts.Service == nil:
		panic("billing: RouterOptions.Service is required")
	case opts.Ingress == nil:
		panic("billing: RouterOptions.Ingress is required")
	case opts.Auth == nil:
		panic("billing: RouterOptions.Auth is required")
	case opts.Policy == nil:
		panic("billing: RouterOptions.Policy is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	a := &api{
		svc:     opts.Service,
		ingress: opts.Ingress,
		cfg:     opts.Config,
		log:     log.With(logger.Component("billing")),
	}

	r := chi.NewRouter()
	route := func(r chi.Router, method, pattern string, h http.Handler) {
		r.With(opts.Policy.For(method, pattern)).Method(method, pattern, h)
	}

	route(r, http.MethodGet, PathPlans, a.listPlansHandler())
	route(r, http.MethodGet, PathPlan, a.getPlanHandler())
	route(r, http.MethodPost, PathWebhookProvider, a.webhookHandler())
	route(r, http.MethodPost, PathWebhookStripe, a.webhookHandler())

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth)
		route(r, http.MethodPost, PathCheckout, a.checkoutHandler())
		route(r, http.MethodGet, PathCurrent, a.currentHandler())
		route(r, http.MethodGet, PathPortalSession, a.portalHandler())
		route(r, http.MethodPost, PathUpdateMetadata, a.updateMetadataHandler())
	})

	return r
}
