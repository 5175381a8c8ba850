package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrInvalidQuery         = errors.New("invalid query parameter")
	ErrInvalidPath          = errors.New("invalid path parameter")
	ErrMissingContentType   = errors.New("missing content type")
	ErrBinderNotApplicable  = errors.New("binder not applicable")
	ErrInvalidTarget        = errors.New("binding target must be a non-nil pointer to struct")
)
