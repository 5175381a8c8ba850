// Package metrics exposes Prometheus collectors for the HTTP surface and the
// billing pipeline on a private registry.
//
// Metrics.Middleware labels requests with the matched chi route pattern. Use
// it inside Router.Group or Router.With so the pattern is resolved.
//
//	m := metrics.New()
//	r.Group(func(r chi.Router) {
//		r.Use(m.Middleware)
//		r.Mount("/api/v1/billing", billingRouter)
//	})
//	r.Handle("/metrics", m.Handler())
package metrics
