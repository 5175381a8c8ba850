// Package binder decodes parts of an HTTP request into a typed struct.
//
// Each binder handles one source and its own struct tag: BindJSON reads the
// body, BindQuery reads `query:"..."` fields and Path reads `path:"..."` fields
// through a router-specific extractor such as chi.URLParam. Binders are
// composed with handler.WithBinders and applied in order.
package binder
