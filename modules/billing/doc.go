// Package billing mounts the billing HTTP API: the plan catalog, checkout,
// the current subscription, the billing portal, the manual metadata resync
// and the payment-provider webhook.
//
// Every route is registered through the routepolicy table returned by Rules,
// so its cache TTL and rate class live in one place:
//
//	policy, err := routepolicy.New(billing.Rules(cfg),
//		routepolicy.WithCache(cacheStore),
//		routepolicy.WithLimiters(limiters),
//	)
//	r.Mount("/api/v1/billing", billing.Router(billing.RouterOptions{
//		Service: svc,
//		Ingress: ingress,
//		Auth:    jwt.Middleware(verifier),
//		Policy:  policy,
//		Config:  cfg,
//	}))
package billing
