package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		check      CheckFunc
		runs       int
		wantStatus int
		wantBody   string
	}{
		{"healthy before first run", failing("x"), 0, http.StatusOK, `{"status":"ok"}`},
		{"passing", passing, 1, http.StatusOK, `{"status":"ok"}`},
		{"below threshold", failing("temporary"), 2, http.StatusOK, `{"status":"ok"}`},
		{
			"failing", failing("connection refused"), 3, http.StatusServiceUnavailable,
			`{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, tt.check)
			for range tt.runs {
				h.liveness[0].run(context.Background())
			}

			w := get(h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestChecker_Recovers(t *testing.T) {
	fail := true
	p := newChecker("flaky", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	assert.False(t, p.run(ctx))
	assert.False(t, p.run(ctx))
	assert.True(t, p.run(ctx), "third failure flips")

	fail = false
	assert.True(t, p.run(ctx), "one success flips back")
	_, failing := p.failure()
	assert.False(t, failing)
}

func TestChecker_Timeout(t *testing.T) {
	p := newChecker("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	for range defaultFailureThreshold {
		p.run(context.Background())
	}
	msg, failing := p.failure()
	require.True(t, failing)
	assert.Contains(t, msg, "deadline exceeded")
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)

	w := get(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w = get(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.AddReadinessCheck("redis", time.Second, failing("refused"))
	for range defaultFailureThreshold {
		h.readiness[1].run(context.Background())
	}
	assert.False(t, h.IsReady())
	w = get(h.ReadyEndpoint)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"refused"}}`, w.Body.String())
}

func TestRun(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, failing("down"))
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, PingCheck(stubPinger{})(ctx))
	assert.ErrorContains(t, PingCheck(stubPinger{err: errors.New("refused")})(ctx), "refused")
	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
