package router

import (
	"context"
	"time"

	"github.com/hnolan/irgateway/internal/backend"
)

// StartHealthChecks launches a background loop that probes every
// registered backend implementing backend.HealthChecker every interval
// (r.cfg.HealthCheckInterval). It returns a stop function; calling it is
// the caller's responsibility (Bridge.Dispose does not call it). Calling
// StartHealthChecks when HealthCheckInterval <= 0 is a no-op returning a
// no-op stop func.
func (r *Router) StartHealthChecks(ctx context.Context, timeout time.Duration) func() {
	if r.cfg.HealthCheckInterval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.probeAll(ctx, timeout)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { close(stop) }
}

func (r *Router) probeAll(ctx context.Context, timeout time.Duration) {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, name := range names {
		e, ok := r.entry(name)
		if !ok {
			continue
		}
		checker, ok := e.adapter.(backend.HealthChecker)
		if !ok {
			continue
		}

		probeCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			probeCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		healthy := checker.HealthCheck(probeCtx)
		if cancel != nil {
			cancel()
		}

		now := time.Now()
		e.mu.Lock()
		e.isHealthy = healthy
		e.lastHealthCheck = &now
		e.mu.Unlock()

		r.emit("backend:health", map[string]any{"name": name, "healthy": healthy})
	}
}
