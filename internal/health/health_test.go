package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"heatbot/internal/heat"
)

type fakeSessions struct{ status heat.SessionStatus }

func (f fakeSessions) Status() heat.SessionStatus { return f.status }

func TestHealthDocument(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	clock := now
	s := NewServer(Options{
		Bot:         "heat_bot",
		Environment: "test",
		Version:     "0.3.0",
		Sessions:    fakeSessions{heat.SessionStatus{Valid: true, Age: 90 * time.Second}},
		Now:         func() time.Time { return clock },
	})
	clock = now.Add(2 * time.Minute)

	for _, path := range []string{"/", "/healthz"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "active", got.Status)
		assert.Equal(t, "heat_bot", got.Bot)
		assert.Equal(t, "test", got.Environment)
		assert.True(t, clock.Equal(got.Timestamp))
		assert.Equal(t, 120.0, got.UptimeSeconds)
		assert.Positive(t, got.PID)
		assert.Positive(t, got.Goroutines)
		assert.True(t, got.Session.Valid)
		assert.Equal(t, 90.0, got.Session.AgeSeconds)
	}
}

func TestHealthUnknownPath(t *testing.T) {
	s := NewServer(Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Options{Bot: "heat_bot"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		res, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
