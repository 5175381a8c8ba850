package jwt

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims the billing API relies on. The subject is the
// identity provider's user id.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier turns a raw bearer token into verified claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type contextKey struct{}

func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok && c != nil
}

// UserIDFromContext returns the verified subject or "".
func UserIDFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID()
	}
	return ""
}

// mapError folds library errors into this package's sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Join(ErrExpiredToken, err)
	default:
		return errors.Join(ErrInvalidToken, err)
	}
}
