package binder

import (
	"fmt"
	"net/http"
)

// Path binds `path:"name"` fields using a router-specific extractor.
//
//	r.Get("/plans/{plan_id}", handler.Wrap(h,
//		handler.WithBinders[handler.Context, GetPlanRequest](binder.Path(chi.URLParam)),
//	))
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}
		return bindValues(v, "path", func(name string) []string {
			if value := extractor(r, name); value != "" {
				return []string{value}
			}
			return nil
		}, ErrInvalidPath)
	}
}
