package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/httpserver"
)

func TestServerRun(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv := httpserver.New(httpserver.Config{ShutdownTimeout: time.Second}, handler, httpserver.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "pong"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRunListenError(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{Addr: "256.0.0.1:bad"}, nil)
	assert.ErrorIs(t, srv.Run(context.Background()), httpserver.ErrStart)
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpserver.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("readiness", func(t *testing.T) {
		t.Parallel()
		ok := httpserver.Check{Name: "pg", Probe: func(context.Context) error { return nil }}
		bad := httpserver.Check{Name: "redis", Probe: func(context.Context) error { return errors.New("down") }}
		rec := httptest.NewRecorder()
		httpserver.ReadinessHandler(discard(), time.Second, ok)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		httpserver.ReadinessHandler(discard(), time.Second, ok, bad)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, map[string]string{"pg": "up", "redis": "down"}, body.Checks)
	})
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
