package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// JWKSConfig configures JWKSVerifier.
type JWKSConfig struct {
	URL             string        `env:"CLERK_JWKS_ENDPOINT"`
	Audience        string        `env:"CLERK_JWT_AUDIENCE"`
	Issuer          string        `env:"CLERK_JWT_ISSUER"`
	Leeway          time.Duration `env:"JWT_LEEWAY" envDefault:"5s"`
	RefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"1h"`
	MinRefreshGap   time.Duration `env:"JWKS_MIN_REFRESH_GAP" envDefault:"30s"`
	FetchTimeout    time.Duration `env:"JWKS_FETCH_TIMEOUT" envDefault:"5s"`
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// JWKSVerifier verifies RS256 tokens against a remote JSON Web Key Set.
// Keys are cached and refetched after RefreshInterval, or earlier when a
// token names an unknown kid (at most once per MinRefreshGap).
type JWKSVerifier struct {
	cfg    JWKSConfig
	client HTTPDoer
	parser *jwt.Parser
	now    func() time.Time
	group  singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type JWKSOption func(*JWKSVerifier)

func WithHTTPClient(c HTTPDoer) JWKSOption {
	return func(v *JWKSVerifier) {
		if c != nil {
			v.client = c
		}
	}
}

func WithClock(now func() time.Time) JWKSOption {
	return func(v *JWKSVerifier) { v.now = now }
}

func NewJWKSVerifier(cfg JWKSConfig, opts ...JWKSOption) *JWKSVerifier {
	v := &JWKSVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: max(cfg.FetchTimeout, time.Second)},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	v.parser = jwt.NewParser(parserOpts...)

	return v
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	})
	if err != nil {
		return nil, mapError(err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fetchedAt := v.fetchedAt
	v.mu.RUnlock()

	stale := v.now().Sub(fetchedAt) > v.cfg.RefreshInterval
	if ok && !stale {
		return key, nil
	}
	if !stale && !ok && v.now().Sub(fetchedAt) < v.cfg.MinRefreshGap {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}

	if _, err, _ := v.group.Do("refresh", func() (any, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		if ok {
			// Serve the stale key rather than fail while the endpoint is down.
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return key, nil
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *JWKSVerifier) refresh(ctx context.Context) error {
	if v.cfg.URL == "" {
		return ErrMissingKeySetURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.URL, nil)
	if err != nil {
		return errors.Join(ErrKeySetFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return errors.Join(ErrKeySetFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetFetch, resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return errors.Join(ErrKeySetFetch, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			return errors.Join(ErrKeySetFetch, err)
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = v.now()
	v.mu.Unlock()
	return nil
}

func parseRSAKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus of %q: %w", ErrUnsupportedKey, k.Kid, err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: exponent of %q: %w", ErrUnsupportedKey, k.Kid, err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("%w: exponent of %q", ErrUnsupportedKey, k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
