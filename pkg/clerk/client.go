package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the identity provider's backend API. Safe for concurrent use.
type Client struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
	http      HTTPClient
	limiter   *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLimiter replaces the outbound request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(cl *Client) {
		if l != nil {
			cl.limiter = l
		}
	}
}

func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
		secretKey: cfg.SecretKey,
		timeout:   timeout,
		http:      &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateUserMetadata merges metadata into the user's public metadata.
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	body, err := json.Marshal(map[string]any{"public_metadata": metadata})
	if err != nil {
		return fmt.Errorf("clerk: encode metadata: %w", err)
	}
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID)+"/metadata", body, nil)
}

// GetUserMetadata returns the user's public metadata.
func (c *Client) GetUserMetadata(ctx context.Context, userID string) (map[string]any, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	var user struct {
		PublicMetadata map[string]any `json:"public_metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	if user.PublicMetadata == nil {
		user.PublicMetadata = map[string]any{}
	}
	return user.PublicMetadata, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.secretKey == "" {
		return ErrMissingSecretKey
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Join(ErrTimeout, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("clerk: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedPayload, err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	msg := strings.ReplaceAll(string(body), "\n", " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w: status %d", ErrPermanentFailure, ErrUserNotFound, status)
	case isPermanentStatus(status):
		return fmt.Errorf("%w: status %d: %s", ErrPermanentFailure, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrTemporaryFailure, status, msg)
	}
}

func isPermanentStatus(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
