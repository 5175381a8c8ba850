package ratelimiter

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// Composite joins the non-empty parts produced by keyFuncs with ":".
// Keys longer than 64 bytes are replaced by their FNV-1a hash.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}
		if len(parts) == 0 {
			return ""
		}

		combined := strings.Join(parts, ":")
		if len(combined) > maxKeyLength {
			h := fnv.New64a()
			_, _ = h.Write([]byte(combined))
			return strconv.FormatUint(h.Sum64(), 36)
		}
		return combined
	}
}

// SetHeaders writes the X-RateLimit-* headers describing res.
func SetHeaders(w http.ResponseWriter, res *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// WriteLimited answers 429 with a Retry-After header and a JSON body
// {"detail":"Too many requests","retry_after":<seconds>}.
func WriteLimited(w http.ResponseWriter, res *Result) {
	retryAfter := int(res.RetryAfter(time.Now()).Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"detail":      "Too many requests",
		"retry_after": retryAfter,
	})
}

// Middleware limits every request passing through it with b, keyed by keyFunc.
// Store failures let the request through.
func Middleware(b *Bucket, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := b.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			SetHeaders(w, res)
			if !res.Allowed() {
				WriteLimited(w, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
