// Package httpserver runs an http.Server bound to a context: Run serves until
// the context is canceled, then drains in-flight requests within the shutdown
// timeout. It also provides liveness and readiness handlers.
package httpserver
