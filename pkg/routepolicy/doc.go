// Package routepolicy binds each route to a cache TTL and a rate-limit class
// through one declarative table.
//
// The table is built once at startup. Every route asks the table for its
// middleware by method and pattern, and a route without a rule panics at
// registration:
//
//	policy, err := routepolicy.New([]routepolicy.Rule{
//		{Method: http.MethodGet, Pattern: "/plans/", CacheTTL: time.Hour, Class: routepolicy.ClassPublic, CacheKey: plansKey},
//		{Method: http.MethodPost, Pattern: "/webhook/provider", Class: routepolicy.ClassWebhook},
//	}, routepolicy.WithCache(store), routepolicy.WithLimiters(limiters))
//
//	r.With(policy.For(http.MethodGet, "/plans/")).Get("/plans/", listPlans)
//
// Only GET responses with status 200 are cached. Cache and rate-limit store
// failures let the request through.
package routepolicy
