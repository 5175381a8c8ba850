package routepolicy

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/saasbilling/pkg/cache"
	"github.com/dmitrymomot/saasbilling/pkg/clientip"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
)

// KeyFunc derives a cache key from the request. An empty key skips the cache.
type KeyFunc func(r *http.Request) string

// Rule is the policy of one route.
type Rule struct {
	Method   string
	Pattern  string
	CacheTTL time.Duration // zero disables caching
	CacheKey KeyFunc       // required when CacheTTL is set
	Class    RateClass
}

// Table holds every rule and enforces them.
type Table struct {
	rules    map[string]Rule
	cache    cache.Store
	limiters map[RateClass]*ratelimiter.Bucket
	identify ratelimiter.KeyFunc
	log      *slog.Logger
}

type Option func(*Table)

func WithCache(store cache.Store) Option {
	return func(t *Table) {
		t.cache = store
	}
}

func WithLimiters(limiters map[RateClass]*ratelimiter.Bucket) Option {
	return func(t *Table) {
		t.limiters = limiters
	}
}

// WithIdentifier overrides DefaultIdentifier.
func WithIdentifier(fn ratelimiter.KeyFunc) Option {
	return func(t *Table) {
		if fn != nil {
			t.identify = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// DefaultIdentifier keys rate limits by the authenticated user, falling back
// to the client IP.
func DefaultIdentifier(r *http.Request) string {
	if id := jwt.UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	ip := clientip.GetIPFromContext(r.Context())
	if ip == "" {
		ip = clientip.GetIP(r)
	}
	return "ip:" + ip
}

func New(rules []Rule, opts ...Option) (*Table, error) {
	t := &Table{
		rules:    make(map[string]Rule, len(rules)),
		identify: DefaultIdentifier,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("routepolicy"))

	for _, rule := range rules {
		if err := t.validate(rule); err != nil {
			return nil, err
		}
		key := ruleKey(rule.Method, rule.Pattern)
		if _, ok := t.rules[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, key)
		}
		t.rules[key] = rule
	}
	return t, nil
}

func (t *Table) validate(rule Rule) error {
	key := ruleKey(rule.Method, rule.Pattern)
	switch {
	case rule.Method == "" || rule.Pattern == "":
		return fmt.Errorf("%w: method and pattern are required", ErrInvalidRule)
	case rule.CacheTTL < 0:
		return fmt.Errorf("%w: %s: negative cache ttl", ErrInvalidRule, key)
	case rule.CacheTTL > 0 && rule.Method != http.MethodGet:
		return fmt.Errorf("%w: %s: only GET routes are cacheable", ErrInvalidRule, key)
	case rule.CacheTTL > 0 && rule.CacheKey == nil:
		return fmt.Errorf("%w: %s: cache ttl without a key function", ErrInvalidRule, key)
	case rule.CacheTTL > 0 && t.cache == nil:
		return fmt.Errorf("%w: %s", ErrMissingCache, key)
	case rule.Class == "":
		return fmt.Errorf("%w: %s: rate class is required", ErrInvalidRule, key)
	}
	if rule.Class != ClassWebhook && t.limiters[rule.Class] == nil {
		return fmt.Errorf("%w: %s (%s)", ErrMissingLimiter, rule.Class, key)
	}
	return nil
}

// Rule returns the rule registered for method and pattern.
func (t *Table) Rule(method, pattern string) (Rule, bool) {
	rule, ok := t.rules[ruleKey(method, pattern)]
	return rule, ok
}

// For returns the middleware enforcing the rule for method and pattern. It
// panics when the table has no such rule, so a route cannot be mounted
// without a policy.
func (t *Table) For(method, pattern string) func(http.Handler) http.Handler {
	rule, ok := t.Rule(method, pattern)
	if !ok {
		panic(fmt.Sprintf("routepolicy: no rule for %s", ruleKey(method, pattern)))
	}

	return func(next http.Handler) http.Handler {
		h := next
		if rule.CacheTTL > 0 {
			h = t.cached(rule, h)
		}
		if rule.Class != ClassWebhook {
			h = t.limited(rule, h)
		}
		return h
	}
}

func (t *Table) limited(rule Rule, next http.Handler) http.Handler {
	bucket := t.limiters[rule.Class]
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := t.identify(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		res, err := bucket.Allow(r.Context(), string(rule.Class)+":"+id)
		if err != nil {
			t.log.WarnContext(r.Context(), "rate limiter unavailable, request allowed",
				slog.String("class", string(rule.Class)),
				logger.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}

		ratelimiter.SetHeaders(w, res)
		if !res.Allowed() {
			ratelimiter.WriteLimited(w, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Table) cached(rule Rule, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rule.CacheKey(r)
		if r.Method != http.MethodGet || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := t.cache.Get(r.Context(), key)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		case !errors.Is(err, cache.ErrMiss):
			t.log.WarnContext(r.Context(), "cache read failed", slog.String("key", key), logger.Error(err))
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		ww.Header().Set("X-Cache", "MISS")
		next.ServeHTTP(ww, r)

		if ww.Status() != http.StatusOK {
			return
		}
		if err := t.cache.Set(r.Context(), key, buf.Bytes(), rule.CacheTTL); err != nil {
			t.log.WarnContext(r.Context(), "cache write failed", slog.String("key", key), logger.Error(err))
		}
	})
}

func ruleKey(method, pattern string) string {
	return method + " " + pattern
}
