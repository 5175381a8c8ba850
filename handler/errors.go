package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError carries the status code and the client-facing message.
type HTTPError struct {
	Code    int
	Message string
	Err     error
}

func NewHTTPError(code int, message string) HTTPError {
	return HTTPError{Code: code, Message: message}
}

// WrapHTTPError attaches a client-facing status and message to err.
func WrapHTTPError(code int, message string, err error) HTTPError {
	return HTTPError{Code: code, Message: message, Err: err}
}

func (e HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, msg)
}

func (e HTTPError) Unwrap() error { return e.Err }

// ValidationError maps field names to messages.
type ValidationError url.Values

func NewValidationError() ValidationError {
	return make(ValidationError)
}

func (e ValidationError) Add(field, message string) {
	e[field] = append(e[field], message)
}

func (e ValidationError) Has(field string) bool {
	return len(e[field]) > 0
}

func (e ValidationError) IsEmpty() bool {
	return len(e) == 0
}

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e[field], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
