package clerk

import "errors"

var (
	ErrMissingUserID     = errors.New("clerk: user id is required")
	ErrMissingSecretKey  = errors.New("clerk: secret key is not configured")
	ErrUserNotFound      = errors.New("clerk: user not found")
	ErrPermanentFailure  = errors.New("clerk: permanent failure")
	ErrTemporaryFailure  = errors.New("clerk: temporary failure")
	ErrTimeout           = errors.New("clerk: request timeout")
	ErrUnexpectedPayload = errors.New("clerk: unexpected response payload")
)

// IsTemporary reports whether err may succeed on retry.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTemporaryFailure) || errors.Is(err, ErrTimeout)
}
