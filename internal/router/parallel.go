package router

import (
	"context"
	"fmt"
	"time"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// DispatchStrategy names a parallel-dispatch aggregation mode.
type DispatchStrategy string

const (
	DispatchFirst   DispatchStrategy = "first"
	DispatchAll     DispatchStrategy = "all"
	DispatchFastest DispatchStrategy = "fastest"
	DispatchCustom  DispatchStrategy = "custom"
)

// DispatchEntry is one backend's outcome within a parallel dispatch.
type DispatchEntry struct {
	Backend   string
	Response  *ir.Response
	Err       error
	LatencyMs int64
}

// CustomAggregator reduces a DispatchAll/DispatchCustom round's entries
// into a single response.
type CustomAggregator func(entries []DispatchEntry) (*ir.Response, error)

// DispatchOptions configures DispatchParallel.
type DispatchOptions struct {
	Backends             []string // defaults to all registered
	Strategy             DispatchStrategy
	CancelOnFirstSuccess bool
	Timeout              time.Duration // bounds "fastest"
	Aggregator           CustomAggregator
}

// DispatchResult is returned by every strategy; for "first"/"fastest" it
// holds only the winning backend's entry.
type DispatchResult struct {
	Response           *ir.Response
	AllResponses        []DispatchEntry
	SuccessfulBackends  []string
	FailedBackends      []string
	TotalTimeMs         int64
}

// DispatchParallel sends req to multiple backends simultaneously and
// aggregates their outcomes per opts.Strategy.
func (r *Router) DispatchParallel(ctx context.Context, req *ir.Request, opts DispatchOptions) (*DispatchResult, error) {
	backends := opts.Backends
	if len(backends) == 0 {
		backends = r.healthyBackends()
	}
	if len(backends) == 0 {
		return nil, gwerror.New(gwerror.KindNoBackendAvailable, "no backends available for parallel dispatch")
	}

	switch opts.Strategy {
	case DispatchAll, DispatchCustom:
		return r.dispatchAll(ctx, req, backends, opts)
	case DispatchFastest:
		return r.dispatchFirst(ctx, req, backends, opts, opts.Timeout)
	default:
		return r.dispatchFirst(ctx, req, backends, opts, 0)
	}
}

func (r *Router) dispatchFirst(ctx context.Context, req *ir.Request, backends []string, opts DispatchOptions, timeout time.Duration) (*DispatchResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if opts.CancelOnFirstSuccess || opts.Strategy == DispatchFastest {
		var c2 context.CancelFunc
		runCtx, c2 = context.WithCancel(runCtx)
		defer c2()
	}

	type outcome struct {
		entry DispatchEntry
	}
	results := make(chan outcome, len(backends))
	start := time.Now()

	for _, name := range backends {
		name := name
		go func() {
			e, ok := r.entry(name)
			if !ok {
				results <- outcome{DispatchEntry{Backend: name, Err: gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))}}
				return
			}
			begin := time.Now()
			resp, err := e.adapter.Execute(runCtx, req)
			results <- outcome{DispatchEntry{Backend: name, Response: resp, Err: err, LatencyMs: time.Since(begin).Milliseconds()}}
		}()
	}

	var lastErr error
	attempts := 0
	for attempts < len(backends) {
		select {
		case res := <-results:
			attempts++
			if res.entry.Err == nil {
				return &DispatchResult{
					Response:           res.entry.Response,
					AllResponses:       []DispatchEntry{res.entry},
					SuccessfulBackends: []string{res.entry.Backend},
					TotalTimeMs:        time.Since(start).Milliseconds(),
				}, nil
			}
			lastErr = res.entry.Err
		case <-runCtx.Done():
			return nil, gwerror.Wrap(gwerror.KindConnectionTimeout, "parallel dispatch timed out", runCtx.Err())
		}
	}
	return nil, gwerror.Wrap(gwerror.KindAllBackendsFailed, "all backends failed in parallel dispatch", lastErr)
}

func (r *Router) dispatchAll(ctx context.Context, req *ir.Request, backends []string, opts DispatchOptions) (*DispatchResult, error) {
	type outcome struct {
		entry DispatchEntry
	}
	results := make(chan outcome, len(backends))
	start := time.Now()

	for _, name := range backends {
		name := name
		go func() {
			e, ok := r.entry(name)
			if !ok {
				results <- outcome{DispatchEntry{Backend: name, Err: gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))}}
				return
			}
			begin := time.Now()
			resp, err := e.adapter.Execute(ctx, req)
			results <- outcome{DispatchEntry{Backend: name, Response: resp, Err: err, LatencyMs: time.Since(begin).Milliseconds()}}
		}()
	}

	entries := make([]DispatchEntry, 0, len(backends))
	for i := 0; i < len(backends); i++ {
		entries = append(entries, (<-results).entry)
	}

	var successful, failed []string
	for _, e := range entries {
		if e.Err == nil {
			successful = append(successful, e.Backend)
		} else {
			failed = append(failed, e.Backend)
		}
	}

	result := &DispatchResult{
		AllResponses:       entries,
		SuccessfulBackends: successful,
		FailedBackends:     failed,
		TotalTimeMs:        time.Since(start).Milliseconds(),
	}

	if opts.Aggregator != nil {
		resp, err := opts.Aggregator(entries)
		if err != nil {
			return result, err
		}
		result.Response = resp
		return result, nil
	}

	for _, e := range entries {
		if e.Err == nil {
			result.Response = e.Response
			break
		}
	}
	return result, nil
}
