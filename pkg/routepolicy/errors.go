package routepolicy

import "errors"

var (
	ErrInvalidRule    = errors.New("routepolicy: invalid rule")
	ErrDuplicateRule  = errors.New("routepolicy: duplicate rule")
	ErrMissingLimiter = errors.New("routepolicy: no limiter for rate class")
	ErrMissingCache   = errors.New("routepolicy: cache ttl set without a cache store")
)
