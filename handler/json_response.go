package handler

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the body written for every error response.
type ErrorBody struct {
	Detail string              `json:"detail"`
	Fields map[string][]string `json:"fields,omitempty"`
}

type jsonResponse struct {
	status  int
	body    any
	headers http.Header
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	for k, v := range j.headers {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

func WithJSONHeader(key, value string) JSONOption {
	return func(r *jsonResponse) {
		if r.headers == nil {
			r.headers = make(http.Header)
		}
		r.headers.Set(key, value)
	}
}

// JSON renders v as the response body with status 200 unless overridden.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err as {"detail": ...}. Internal error text is never
// exposed: only HTTPError and ValidationError messages reach the client.
func JSONError(err error, opts ...JSONOption) Response {
	status, body := errorToBody(err)
	r := &jsonResponse{status: status, body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func errorToBody(err error) (int, ErrorBody) {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return http.StatusUnprocessableEntity, ErrorBody{Detail: "Validation failed", Fields: valErr}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, ErrorBody{Detail: msg}
	}

	return http.StatusInternalServerError, ErrorBody{Detail: "Internal server error"}
}
