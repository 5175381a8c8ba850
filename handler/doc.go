// Package handler provides typed JSON HTTP handlers.
//
// A HandlerFunc receives a Context and a request struct populated by the
// configured binders, and returns a Response that renders itself:
//
//	type checkoutRequest struct {
//		PlanID int64 `json:"plan_id"`
//	}
//
//	func checkout(ctx handler.Context, req checkoutRequest) handler.Response {
//		url, err := svc.CreateCheckout(ctx, req.PlanID)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(map[string]string{"checkout_url": url})
//	}
//
//	r.Post("/checkout", handler.Wrap(checkout,
//		handler.WithBinders[handler.Context, checkoutRequest](binder.BindJSON()),
//	))
//
// Errors returned by binders or by Response.Render go to the ErrorHandler,
// which by default writes {"detail": "..."} with the status taken from an
// HTTPError, 422 for a ValidationError and 500 otherwise.
package handler
