package billing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// Client-facing messages.
const (
	msgPlanNotFound      = "Plan not found"
	msgInvalidPlan       = "Invalid plan selected"
	msgPlanNotConfigured = "Plan is missing payment configuration"
	msgCheckoutFailed    = "Failed to create checkout session"
	msgNoSubscription    = "No active subscription found"
	msgPortalFailed      = "Failed to generate billing portal URL"
	msgMetadataFailed    = "Failed to update metadata"
	msgSignatureMissing  = "signature header missing"
	msgSignatureInvalid  = "Invalid webhook signature"
	msgMalformedEvent    = "Invalid webhook payload"
	msgBodyTooLarge      = "Request body too large"
	msgWebhookFailed     = "Webhook processing failed"
	msgUnauthenticated   = "Could not validate credentials"
)

// operation selects the message used for provider failures.
type operation int

const (
	opPlans operation = iota
	opCheckout
	opCurrent
	opPortal
	opMetadata
	opWebhook
)

// mapError turns a domain error into an HTTPError.
func mapError(op operation, err error) handler.HTTPError {
	switch {
	case errors.Is(err, subscription.ErrRetry):
		return internalError(op, err)
	case errors.Is(err, subscription.ErrMissingSignature):
		return handler.WrapHTTPError(http.StatusBadRequest, msgSignatureMissing, err)
	case errors.Is(err, subscription.ErrSignatureInvalid):
		return handler.WrapHTTPError(http.StatusBadRequest, msgSignatureInvalid, err)
	case errors.Is(err, subscription.ErrMalformedEvent):
		return handler.WrapHTTPError(http.StatusBadRequest, msgMalformedEvent, err)
	case errors.Is(err, subscription.ErrPlanNotPurchasable):
		return handler.WrapHTTPError(http.StatusBadRequest, msgPlanNotConfigured, err)
	case errors.Is(err, subscription.ErrValidation):
		return handler.WrapHTTPError(http.StatusBadRequest, msgInvalidPlan, err)
	case errors.Is(err, subscription.ErrPlanNotFound):
		return handler.WrapHTTPError(http.StatusNotFound, msgPlanNotFound, err)
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return handler.WrapHTTPError(http.StatusNotFound, msgNoSubscription, err)
	}
	return internalError(op, err)
}

func internalError(op operation, err error) handler.HTTPError {
	msg := http.StatusText(http.StatusInternalServerError)
	switch op {
	case opCheckout:
		msg = msgCheckoutFailed
	case opPortal:
		msg = msgPortalFailed
	case opMetadata:
		msg = msgMetadataFailed
	case opWebhook:
		msg = msgWebhookFailed
	}
	return handler.WrapHTTPError(http.StatusInternalServerError, msg, err)
}

func (a *api) fail(ctx handler.Context, op operation, err error) handler.Response {
	httpErr := mapError(op, err)

	level := slog.LevelWarn
	if httpErr.Code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	r := ctx.Request()
	a.log.LogAttrs(r.Context(), level, "billing request failed",
		logger.RequestID(requestid.FromContext(r.Context())),
		logger.Error(err),
		slog.Int("status_code", httpErr.Code),
		slog.String("path", r.URL.Path),
	)
	return handler.JSONError(httpErr)
}
