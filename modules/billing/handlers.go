package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/saasbilling/binder"
	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

type api struct {
	svc     *subscription.Service
	ingress *subscription.Ingress
	cfg     Config
	log     *slog.Logger
}

func (a *api) errorHandler() handler.ErrorHandler[handler.Context] {
	return handler.NewErrorHandler(a.log)
}

type noRequest struct{}

type GetPlanRequest struct {
	PlanID int64 `path:"plan_id"`
}

type CheckoutRequest struct {
	PlanID int64 `json:"plan_id"`
}

func (a *api) listPlansHandler() http.HandlerFunc {
	return handler.Wrap(a.listPlans,
		handler.WithErrorHandler[handler.Context, noRequest](a.errorHandler()),
	)
}

func (a *api) listPlans(ctx handler.Context, _ noRequest) handler.Response {
	plans, err := a.svc.ListPlans(ctx)
	if err != nil {
		return a.fail(ctx, opPlans, err)
	}
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	return handler.JSON(out)
}

func (a *api) getPlanHandler() http.HandlerFunc {
	return handler.Wrap(a.getPlan,
		handler.WithBinders[handler.Context, GetPlanRequest](binder.Path(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, GetPlanRequest](a.errorHandler()),
	)
}

func (a *api) getPlan(ctx handler.Context, req GetPlanRequest) handler.Response {
	plan, err := a.svc.GetPlan(ctx, req.PlanID)
	if err != nil {
		return a.fail(ctx, opPlans, err)
	}
	return handler.JSON(newPlanResponse(*plan))
}

func (a *api) checkoutHandler() http.HandlerFunc {
	return handler.Wrap(a.checkout,
		handler.WithBinders[handler.Context, CheckoutRequest](binder.BindJSON()),
		handler.WithErrorHandler[handler.Context, CheckoutRequest](a.errorHandler()),
	)
}

func (a *api) checkout(ctx handler.Context, req CheckoutRequest) handler.Response {
	claims, ok := jwt.ClaimsFromContext(ctx)
	if !ok {
		return handler.JSONError(handler.NewHTTPError(http.StatusUnauthorized, msgUnauthenticated))
	}

	session, err := a.svc.CreateCheckout(ctx, subscription.CheckoutRequest{
		UserID: claims.UserID(),
		Email:  claims.Email,
		PlanID: req.PlanID,
	})
	if err != nil {
		return a.fail(ctx, opCheckout, err)
	}
	return handler.JSON(CheckoutResponse{CheckoutURL: session.URL})
}

func (a *api) currentHandler() http.HandlerFunc {
	return handler.Wrap(a.current,
		handler.WithErrorHandler[handler.Context, noRequest](a.errorHandler()),
	)
}

func (a *api) current(ctx handler.Context, _ noRequest) handler.Response {
	sub, err := a.svc.CurrentSubscription(ctx, jwt.UserIDFromContext(ctx))
	if err != nil {
		return a.fail(ctx, opCurrent, err)
	}
	return handler.JSON(newSubscriptionResponse(sub))
}

func (a *api) portalHandler() http.HandlerFunc {
	return handler.Wrap(a.portal,
		handler.WithErrorHandler[handler.Context, noRequest](a.errorHandler()),
	)
}

func (a *api) portal(ctx handler.Context, _ noRequest) handler.Response {
	portal, err := a.svc.PortalSession(ctx, jwt.UserIDFromContext(ctx))
	if err != nil {
		return a.fail(ctx, opPortal, err)
	}
	return handler.JSON(PortalResponse{BillingPortalURL: portal.URL})
}

func (a *api) updateMetadataHandler() http.HandlerFunc {
	return handler.Wrap(a.updateMetadata,
		handler.WithErrorHandler[handler.Context, noRequest](a.errorHandler()),
	)
}

func (a *api) updateMetadata(ctx handler.Context, _ noRequest) handler.Response {
	if err := a.svc.ResyncMetadata(ctx, jwt.UserIDFromContext(ctx)); err != nil {
		return a.fail(ctx, opMetadata, err)
	}
	return handler.JSON(MessageResponse{Message: "Metadata updated successfully"})
}

func (a *api) webhookHandler() http.HandlerFunc {
	return handler.Wrap(a.webhook,
		handler.WithErrorHandler[handler.Context, noRequest](a.errorHandler()),
	)
}

// webhook reads the raw body, which the provider signature covers, and runs
// it through the ingress pipeline.
func (a *api) webhook(ctx handler.Context, _ noRequest) handler.Response {
	r := ctx.Request()
	body, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, a.cfg.bodyLimit()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return handler.JSONError(handler.WrapHTTPError(http.StatusRequestEntityTooLarge, msgBodyTooLarge, err))
		}
		return handler.JSONError(handler.WrapHTTPError(http.StatusBadRequest, msgMalformedEvent, err))
	}

	res, err := a.ingress.Handle(ctx, body, r.Header)
	if err != nil {
		return a.fail(ctx, opWebhook, err)
	}
	if res.Event != nil {
		a.log.DebugContext(ctx, "webhook acknowledged",
			logger.EventType(res.Event.Source().Type),
			logger.State(string(res.State)),
		)
	}
	return handler.JSON(StatusResponse{Status: "success"})
}
