package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by *pgxpool.Pool and the in-memory store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a dependency through its Ping method.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineCheck fails when the process runs more than limit goroutines,
// which usually means a leak.
func GoroutineCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines exceed limit %d", n, limit)
		}
		return nil
	}
}
