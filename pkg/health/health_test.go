package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status   string            `json:"status"`
	Failures map[string]string `json:"failures"`
}

func get(t *testing.T, h http.HandlerFunc) (int, statusBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLive_PassingByDefault(t *testing.T) {
	r := New()
	r.Register(Probe{Name: "goroutines", Kind: Liveness, Check: GoroutineCheck(1 << 20)})

	code, body := get(t, r.LiveHandler)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Failures)
}

func TestProbe_FailureThreshold(t *testing.T) {
	r := New()
	r.Register(Probe{Name: "db", Kind: Liveness, Check: func(context.Context) error {
		return errors.New("connection refused")
	}})
	p := r.probes[0]
	ctx := context.Background()

	p.tick(ctx)
	p.tick(ctx)
	code, _ := get(t, r.LiveHandler)
	assert.Equal(t, http.StatusOK, code, "two failures stay under the threshold")

	p.tick(ctx)
	code, body := get(t, r.LiveHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "connection refused", body.Failures["db"])
}

func TestProbe_Recovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	r := New()
	r.SetReady(true)
	r.Register(Probe{
		Name:             "redis",
		Kind:             Readiness,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Check: func(context.Context) error {
			if failing.Load() {
				return errors.New("timeout")
			}
			return nil
		},
	})
	p := r.probes[0]
	ctx := context.Background()

	p.tick(ctx)
	assert.False(t, r.Ready())

	failing.Store(false)
	p.tick(ctx)
	assert.False(t, r.Ready())
	p.tick(ctx)
	assert.True(t, r.Ready())
}

func TestReady_ManualSwitch(t *testing.T) {
	r := New()
	r.Register(Probe{Name: "postgres", Kind: Readiness, Check: PingCheck(pingerFunc(func(context.Context) error {
		return nil
	}))})

	code, body := get(t, r.ReadyHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Failures, "draining")

	r.SetReady(true)
	code, _ = get(t, r.ReadyHandler)
	assert.Equal(t, http.StatusOK, code)

	r.SetReady(false)
	assert.False(t, r.Ready())
}

func TestReady_IgnoresLivenessProbes(t *testing.T) {
	r := New()
	r.SetReady(true)
	r.Register(Probe{Name: "leak", Kind: Liveness, FailureThreshold: 1, Check: GoroutineCheck(0)})
	r.probes[0].tick(context.Background())

	code, _ := get(t, r.ReadyHandler)
	assert.Equal(t, http.StatusOK, code)
	code, body := get(t, r.LiveHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Failures["leak"], "exceed limit 0")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	r := New()
	r.Register(Probe{Name: "tick", Kind: Readiness, Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
