package jwt

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// HMACService signs and verifies HS256 tokens with a shared secret.
type HMACService struct {
	key    []byte
	parser *jwt.Parser
}

func NewHMACService(key []byte) (*HMACService, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	return &HMACService{
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}, nil
}

func (s *HMACService) Generate(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *HMACService) Verify(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return nil, mapError(err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
