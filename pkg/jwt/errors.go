package jwt

import "errors"

var (
	ErrMissingToken     = errors.New("jwt: missing bearer token")
	ErrInvalidToken     = errors.New("jwt: invalid token")
	ErrExpiredToken     = errors.New("jwt: token is expired")
	ErrMissingSubject   = errors.New("jwt: token has no subject")
	ErrUnknownKey       = errors.New("jwt: unknown signing key")
	ErrMissingKey       = errors.New("jwt: missing signing key")
	ErrKeySetFetch      = errors.New("jwt: failed to fetch key set")
	ErrUnsupportedKey   = errors.New("jwt: unsupported key type")
	ErrMissingKeySetURL = errors.New("jwt: key set url is not configured")
)
