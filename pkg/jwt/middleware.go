package jwt

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type middlewareConfig struct {
	onError ErrorHandler
}

type MiddlewareOption func(*middlewareConfig)

func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(c *middlewareConfig) {
		if h != nil {
			c.onError = h
		}
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func Middleware(v Verifier, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{onError: unauthorized}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				cfg.onError(w, r, err)
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				cfg.onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
}
