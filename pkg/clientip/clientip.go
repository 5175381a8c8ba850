// Package clientip resolves the caller's IP address behind reverse proxies and
// stores it in the request context. Rate limiting uses it as the identity of
// anonymous callers.
package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// DefaultHeaders are consulted in order before falling back to RemoteAddr.
var DefaultHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// GetIP returns the first valid address found in headers, then RemoteAddr.
// For comma separated headers the left-most valid entry wins.
func GetIP(r *http.Request, headers ...string) string {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	for _, h := range headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		for part := range strings.SplitSeq(v, ",") {
			if ip := parseIP(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

type contextKey struct{}

func SetIPToContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

func GetIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// Middleware stores the resolved client IP in the request context.
func Middleware(headers ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := SetIPToContext(r.Context(), GetIP(r, headers...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
