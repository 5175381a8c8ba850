package handler_test

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/binder"
	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

type createRequest struct {
	PlanID int64 `json:"plan_id"`
}

func TestWrap(t *testing.T) {
	t.Parallel()

	echo := func(ctx handler.Context, req createRequest) handler.Response {
		return handler.JSON(map[string]int64{"plan_id": req.PlanID}, handler.WithJSONStatus(http.StatusCreated))
	}

	t.Run("binds and renders", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(echo, handler.WithBinders[handler.Context, createRequest](binder.BindJSON()))
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plan_id":3}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"plan_id":3}`, rec.Body.String())
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	})

	t.Run("bind error is 400", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(echo, handler.WithBinders[handler.Context, createRequest](binder.BindJSON()))
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plan_id":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"detail":"Malformed request body"}`, rec.Body.String())
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		var got error
		h := handler.Wrap(func(handler.Context, createRequest) handler.Response { return nil },
			handler.WithErrorHandler[handler.Context, createRequest](func(ctx handler.Context, err error) {
				got = err
				ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
			}),
		)
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.ErrorIs(t, got, handler.ErrNilResponse)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("decorators run outermost first", func(t *testing.T) {
		t.Parallel()
		var order []string
		mark := func(name string) handler.Decorator[handler.Context, createRequest] {
			return func(next handler.HandlerFunc[handler.Context, createRequest]) handler.HandlerFunc[handler.Context, createRequest] {
				return func(ctx handler.Context, req createRequest) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}
		h := handler.Wrap(echo, handler.WithDecorators(mark("outer"), mark("inner")))
		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, []string{"outer", "inner"}, order)
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "http error",
			err:    handler.NewHTTPError(http.StatusNotFound, "Plan not found"),
			status: http.StatusNotFound,
			body:   `{"detail":"Plan not found"}`,
		},
		{
			name:   "wrapped http error",
			err:    handler.WrapHTTPError(http.StatusBadRequest, "Invalid plan selected", errors.New("no rows")),
			status: http.StatusBadRequest,
			body:   `{"detail":"Invalid plan selected"}`,
		},
		{
			name: "validation error",
			err: func() error {
				v := handler.NewValidationError()
				v.Add("plan_id", "must be positive")
				return v
			}(),
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":"Validation failed","fields":{"plan_id":["must be positive"]}}`,
		},
		{
			name:   "internal error hides text",
			err:    errors.New("dial tcp: connection refused"),
			status: http.StatusInternalServerError,
			body:   `{"detail":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			require.NoError(t, handler.JSONError(tt.err).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatJSON), logger.WithLevel(slog.LevelDebug))
	eh := handler.NewErrorHandler(log)

	rec := httptest.NewRecorder()
	eh(handler.NewContext(rec, httptest.NewRequest(http.MethodGet, "/x", nil)), handler.NewHTTPError(http.StatusBadRequest, "bad"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"bad"}`, rec.Body.String())
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status_code":400`)
}

func TestEmpty(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	require.NoError(t, handler.Empty().Render(rec, httptest.NewRequest(http.MethodDelete, "/", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
