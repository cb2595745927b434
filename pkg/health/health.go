// Package health serves liveness and readiness probes for the API server.
//
// Each probe runs on its own ticker. A probe flips to failing only after
// FailureThreshold consecutive errors and back to passing after
// SuccessThreshold consecutive successes, so a single slow ping does not take
// the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// Kind selects the endpoint a probe contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe describes a named check.
type Probe struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	Check            CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

type probeState struct {
	Probe

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	// Only touched by the probe's own goroutine.
	fails, oks int
}

func (p *probeState) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.oks = 0
		p.fails++
		if p.fails >= p.FailureThreshold {
			p.passing.Store(false)
		}
		return
	}
	p.lastErr.Store(nil)
	p.fails = 0
	p.oks++
	if p.oks >= p.SuccessThreshold {
		p.passing.Store(true)
	}
}

func (p *probeState) failure() (string, bool) {
	if p.passing.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "failing", true
}

// Registry holds probes and the manual readiness switch.
type Registry struct {
	mu     sync.RWMutex
	probes []*probeState
	ready  atomic.Bool
}

// New creates a Registry. It reports not ready until SetReady(true).
func New() *Registry {
	return &Registry{}
}

// Register adds a probe. Probes start out passing. Zero thresholds default to
// three failures and one success; a zero timeout defaults to one second.
func (r *Registry) Register(p Probe) {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = time.Second
	}
	s := &probeState{Probe: p}
	s.passing.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, s)
}

// SetReady toggles readiness independently of the probes. The server sets it
// to false at the start of a graceful drain.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Run ticks every probe at interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	r.mu.RLock()
	probes := append([]*probeState(nil), r.probes...)
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range probes {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.tick(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

func (r *Registry) failures(kind Kind) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failures := make(map[string]string)
	for _, p := range r.probes {
		if p.Kind != kind {
			continue
		}
		if msg, failing := p.failure(); failing {
			failures[p.Name] = msg
		}
	}
	return failures
}

// Ready reports whether the service should receive traffic.
func (r *Registry) Ready() bool {
	return r.ready.Load() && len(r.failures(Readiness)) == 0
}

// LiveHandler serves /livez.
func (r *Registry) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, r.failures(Liveness))
}

// ReadyHandler serves /readyz.
func (r *Registry) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	failures := r.failures(Readiness)
	if !r.ready.Load() {
		failures["draining"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status, text := http.StatusOK, "ok"
	if len(failures) > 0 {
		status, text = http.StatusServiceUnavailable, "unavailable"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(text)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("failures")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
