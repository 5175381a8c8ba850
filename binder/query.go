package binder

import "net/http"

// BindQuery binds `query:"name"` fields from the URL query string.
// Slices accept repeated keys or comma-separated values, pointers mark
// optional fields.
//
//	type PortalRequest struct {
//		ReturnURL *string `query:"return_url"`
//	}
func BindQuery() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		q := r.URL.Query()
		return bindValues(v, "query", func(name string) []string { return q[name] }, ErrInvalidQuery)
	}
}
