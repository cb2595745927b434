package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc identifies the caller. Defaults to the remote IP, which chi's
	// RealIP middleware resolves from proxy headers.
	KeyFunc func(*http.Request) string
}

type window struct {
	start      time.Time
	count      float64
	prevCount  float64
	prevActive bool
}

// Limiter approximates a sliding window by weighting the previous fixed
// window by how much of it still overlaps the current one.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = RemoteIP
	}
	return &Limiter{cfg: cfg, windows: make(map[string]*window)}
}

// Allow records a request for key at now and reports whether it fits into
// the limit, how many requests remain and when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (allowed bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.cfg.Window)
	w, ok := l.windows[key]
	switch {
	case !ok:
		w = &window{start: start}
		l.windows[key] = w
	case start.Sub(w.start) == l.cfg.Window:
		w.prevCount, w.prevActive = w.count, true
		w.start, w.count = start, 0
	case start.After(w.start):
		w.prevCount, w.prevActive = 0, false
		w.start, w.count = start, 0
	}

	used := w.count
	if w.prevActive {
		overlap := 1 - float64(now.Sub(w.start))/float64(l.cfg.Window)
		used += w.prevCount * overlap
	}
	reset = w.start.Add(l.cfg.Window)
	if used+1 > float64(l.cfg.Max) {
		return false, 0, reset
	}
	w.count++
	return true, int(math.Max(0, math.Floor(float64(l.cfg.Max)-used-1))), reset
}

// Sweep drops keys idle for two windows.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// Run sweeps idle keys until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// Middleware enforces the limit and sets the X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			allowed, remaining, reset := l.Allow(l.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !allowed {
				retry := int(math.Ceil(reset.Sub(now).Seconds()))
				h.Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP returns the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
