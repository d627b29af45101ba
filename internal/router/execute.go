package router

import (
	"context"
	"fmt"
	"time"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// Execute satisfies backend.Adapter: it selects a backend (honoring
// req.Metadata.Custom["preferredBackend"] if set) and dispatches per the
// configured fallback strategy.
func (r *Router) Execute(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	preferred := ""
	if v, ok := req.Metadata.Custom["preferredBackend"].(string); ok {
		preferred = v
	}

	first, err := r.SelectBackend(req, preferred)
	if err != nil {
		return nil, err
	}

	switch r.cfg.FallbackStrategy {
	case FallbackSequential:
		return r.executeSequential(ctx, req, first)
	case FallbackParallel:
		return r.executeParallelFallback(ctx, req)
	case FallbackCustom:
		return r.executeCustomFallback(ctx, req, first)
	default:
		return r.executeOne(ctx, req, first)
	}
}

func (r *Router) executeOne(ctx context.Context, req *ir.Request, name string) (*ir.Response, error) {
	e, ok := r.entry(name)
	if !ok {
		return nil, gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))
	}

	start := time.Now()
	resp, err := e.adapter.Execute(ctx, req)
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		e.recordFailure()
		e.breaker.RecordFailure()
		return nil, err
	}
	e.recordSuccess(latency)
	e.breaker.RecordSuccess()
	return resp, nil
}

func (r *Router) executeSequential(ctx context.Context, req *ir.Request, first string) (*ir.Response, error) {
	chain := r.cfg.FallbackChain
	if len(chain) == 0 {
		chain = []string{first}
	}

	seen := map[string]bool{}
	candidates := append([]string{first}, chain...)

	stoppedOnNonRetryable := false

	var entries []FallbackEntry[string]
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true
		e, ok := r.entry(name)
		if !ok {
			continue
		}
		name := name
		entry := e
		entries = append(entries, FallbackEntry[string]{
			Name: name,
			Value: name,
			Allow: func() bool {
				return !stoppedOnNonRetryable && entry.breaker.Allow()
			},
			OnSuccess: entry.breaker.RecordSuccess,
			OnFailure: entry.breaker.RecordFailure,
		})
	}

	group := NewFallbackGroup(entries...)

	var resp *ir.Response
	attempted, err := group.Execute(func(name string) error {
		start := time.Now()
		e, _ := r.entry(name)
		r2, execErr := e.adapter.Execute(ctx, req)
		latency := float64(time.Since(start).Milliseconds())

		if execErr != nil {
			e.recordFailure()
			if ge, ok := execErr.(*gwerror.Error); ok && !ge.IsRetryable {
				stoppedOnNonRetryable = true
			}
			return execErr
		}
		e.recordSuccess(latency)
		resp = r2
		return nil
	})

	for i := 1; i < len(attempted); i++ {
		r.emit("backend:failover", map[string]any{
			"previous": attempted[i-1],
			"current":  attempted[i],
		})
	}

	if err != nil {
		r.emit("all_backends_failed", map[string]any{"attempted": attempted})
		return nil, gwerror.Wrap(gwerror.KindAllBackendsFailed, "all backends in fallback chain failed", err)
	}
	return resp, nil
}

func (r *Router) executeCustomFallback(ctx context.Context, req *ir.Request, first string) (*ir.Response, error) {
	if r.cfg.CustomFallback == nil {
		return r.executeOne(ctx, req, first)
	}

	var attempted []string
	name := first
	var lastErr error

	for {
		resp, err := r.executeOne(ctx, req, name)
		attempted = append(attempted, name)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		next, ok := r.cfg.CustomFallback(req, err, attempted)
		if !ok {
			break
		}
		r.emit("backend:failover", map[string]any{"previous": name, "current": next, "reason": err.Error()})
		name = next
	}

	r.emit("all_backends_failed", map[string]any{"attempted": attempted})
	return nil, gwerror.Wrap(gwerror.KindAllBackendsFailed, "all backends failed via custom fallback", lastErr)
}

func (r *Router) executeParallelFallback(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	result, err := r.DispatchParallel(ctx, req, DispatchOptions{Strategy: DispatchFirst, CancelOnFirstSuccess: true})
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// ExecuteStream satisfies backend.Adapter's streaming half. Streaming
// fallback is limited to the connection attempt: once a backend's stream
// has begun emitting chunks, this router does not retry it against a
// different backend mid-stream (the stream is a non-restartable
// sequence per spec §4.7).
func (r *Router) ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	preferred := ""
	if v, ok := req.Metadata.Custom["preferredBackend"].(string); ok {
		preferred = v
	}

	chain := []string{}
	first, err := r.SelectBackend(req, preferred)
	if err != nil {
		return nil, err
	}
	chain = append(chain, first)
	if r.cfg.FallbackStrategy == FallbackSequential {
		chain = append(chain, r.cfg.FallbackChain...)
	}

	var lastErr error
	attempted := make(map[string]bool)
	for _, name := range chain {
		if attempted[name] {
			continue
		}
		e, ok := r.entry(name)
		if !ok || !e.breaker.Allow() {
			continue
		}
		attempted[name] = true

		chunks, err := e.adapter.ExecuteStream(ctx, req)
		if err == nil {
			e.breaker.RecordSuccess()
			return chunks, nil
		}
		lastErr = err
		e.breaker.RecordFailure()
	}

	return nil, gwerror.Wrap(gwerror.KindAllBackendsFailed, "all backends failed to start stream", lastErr)
}
