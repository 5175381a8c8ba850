package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
)

// NewErrorHandler returns an ErrorHandler that logs the error and renders it
// with JSONError. Client errors log at warn, server errors at error.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = logger.Discard()
	}

	return func(ctx Context, err error) {
		resp := JSONError(err).(*jsonResponse)
		r := ctx.Request()

		level := slog.LevelError
		if resp.status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", resp.status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
