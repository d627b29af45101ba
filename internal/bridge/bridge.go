// Package bridge wires one frontend dialect adapter to one backend
// target (a single backend.Adapter or a *router.Router, which itself
// satisfies backend.Adapter) behind a middleware chain, with event
// subscription and aggregate statistics.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/hnolan/irgateway/internal/backend"
	"github.com/hnolan/irgateway/internal/frontend"
	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/internal/middleware"
	"github.com/hnolan/irgateway/internal/router"
	"github.com/hnolan/irgateway/ir"
)

// Options configures a single Chat/ChatStream call.
type Options struct {
	Timeout        time.Duration
	Backend        string // preferred backend name, passed to a Router target
	Metadata       map[string]any
	SkipMiddleware bool
	Custom         map[string]any
}

// EventHandler receives a bridge lifecycle event's payload.
type EventHandler func(payload map[string]any)

// Subscription identifies a registered EventHandler for later removal.
type Subscription struct {
	event string
	id    uint64
}

// Config configures a Bridge at construction time.
type Config struct {
	// AutoRequestID generates a requestId when the caller didn't supply
	// one in Options.Metadata or the frontend dialect's own body.
	AutoRequestID bool
}

// Bridge is the gateway's single public entry point: one frontend
// dialect, one backend target, a middleware chain, events, and stats.
type Bridge struct {
	mu       sync.RWMutex
	frontend frontend.Adapter
	target   backend.Adapter
	chain    *middleware.Chain
	cfg      Config

	listenersMu sync.Mutex
	nextSubID   uint64
	listeners   map[string]map[uint64]EventHandler
	onceIDs     map[uint64]bool

	stats statsState
}

type statsState struct {
	mu          sync.Mutex
	total       int64
	successful  int64
	failed      int64
	streaming   int64
	latenciesMs []float64
	perBackend  map[string]*ir.BackendStats
	errorCounts map[string]int64
	resetAt     time.Time
}

// New constructs a Bridge over frontendAdapter and target.
func New(frontendAdapter frontend.Adapter, target backend.Adapter, cfg Config) *Bridge {
	return &Bridge{
		frontend:  frontendAdapter,
		target:    target,
		chain:     middleware.NewChain(),
		cfg:       cfg,
		listeners: make(map[string]map[uint64]EventHandler),
		onceIDs:   make(map[uint64]bool),
		stats: statsState{
			perBackend:  make(map[string]*ir.BackendStats),
			errorCounts: make(map[string]int64),
			resetAt:     time.Now(),
		},
	}
}

// Use registers a non-streaming middleware.
func (b *Bridge) Use(m middleware.Middleware) { b.chain.Use(m) }

// UseStream registers a streaming middleware.
func (b *Bridge) UseStream(m middleware.StreamMiddleware) { b.chain.UseStream(m) }

// RemoveMiddleware removes the first registered middleware named name.
func (b *Bridge) RemoveMiddleware(name string) bool { return b.chain.Remove(name) }

// ClearMiddleware removes every registered middleware.
func (b *Bridge) ClearMiddleware() { b.chain.Clear() }

// GetMiddleware lists registered middleware names in registration order.
func (b *Bridge) GetMiddleware() []string { return b.chain.List() }

// GetRouter returns the target as a *router.Router and true if the Bridge
// was constructed over one, or (nil, false) if the target is a bare
// backend.Adapter.
func (b *Bridge) GetRouter() (*router.Router, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.target.(*router.Router)
	return r, ok
}

// Clone returns a new Bridge sharing this one's frontend/target/config
// but with an independent middleware chain, listener set, and stats.
func (b *Bridge) Clone() *Bridge {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return New(b.frontend, b.target, b.cfg)
}

// Dispose releases resources held by the Bridge itself. It does not stop
// a Router's health-check goroutine — that lifecycle belongs to whoever
// called StartHealthChecks, since a Router can outlive any one Bridge
// built over it (e.g. a Clone). Currently a no-op; present so callers
// that hold a Bridge for a bounded lifetime have one cleanup call to
// make regardless of what a future target type needs released.
func (b *Bridge) Dispose() {}

func generateRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// predictSelectedBackend populates rc.Backend with the backend name the
// post-routing middleware pass (in particular per-backend rate limiting)
// should bucket on, before the real dispatch in terminal happens. When the
// target is a Router, this is the Router's own SelectBackend prediction —
// a best guess that may differ from the backend actually used if a
// sequential/custom fallback strategy kicks in mid-dispatch, since Router
// selection and dispatch are otherwise fused into one Execute call. A
// bare-backend target's name is already known outright.
func (b *Bridge) predictSelectedBackend(rc *middleware.RequestContext) {
	if r, ok := b.GetRouter(); ok {
		if name, err := r.SelectBackend(rc.Request, rc.Backend); err == nil {
			rc.Backend = name
		}
		return
	}
	rc.Backend = b.target.Name()
}

func (b *Bridge) prepareRequest(req *ir.Request, opts Options) {
	if req.Metadata.Custom == nil {
		req.Metadata.Custom = make(map[string]any)
	}
	for k, v := range opts.Metadata {
		switch k {
		case "requestId":
			if s, ok := v.(string); ok {
				req.Metadata.RequestID = s
			}
		default:
			req.Metadata.Custom[k] = v
		}
	}
	for k, v := range opts.Custom {
		req.Metadata.Custom[k] = v
	}
	if opts.Backend != "" {
		req.Metadata.Custom["preferredBackend"] = opts.Backend
	}
	if req.Metadata.RequestID == "" && b.cfg.AutoRequestID {
		req.Metadata.RequestID = generateRequestID()
	}
	req.Metadata.Timestamp = time.Now()
}

// Chat translates dialectRequest through the frontend, runs it through
// the middleware chain and backend target, and returns the dialect
// response bytes.
func (b *Bridge) Chat(ctx context.Context, dialectRequest []byte, opts Options) ([]byte, error) {
	req, err := b.frontend.ToIR(dialectRequest)
	if err != nil {
		return nil, err
	}
	b.prepareRequest(req, opts)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	b.emit("request:start", map[string]any{"requestId": req.Metadata.RequestID})
	start := time.Now()

	rc := middleware.NewRequestContext(req)
	if opts.Backend != "" {
		rc.Backend = opts.Backend
	}

	preTerminal := func(ctx context.Context, rc *middleware.RequestContext) (*ir.Response, error) {
		return nil, nil
	}
	if _, err := b.chain.Run(ctx, rc, opts.SkipMiddleware, true, preTerminal); err != nil {
		duration := time.Since(start)
		b.recordFailure(rc.Backend, duration, err)
		b.emit("request:error", map[string]any{"requestId": req.Metadata.RequestID, "error": err.Error()})
		return nil, err
	}

	b.predictSelectedBackend(rc)

	terminal := func(ctx context.Context, rc *middleware.RequestContext) (*ir.Response, error) {
		return b.target.Execute(ctx, rc.Request)
	}

	resp, err := b.chain.Run(ctx, rc, opts.SkipMiddleware, false, terminal)
	duration := time.Since(start)

	if err != nil {
		b.recordFailure(rc.Backend, duration, err)
		b.emit("request:error", map[string]any{"requestId": req.Metadata.RequestID, "error": err.Error()})
		return nil, err
	}

	b.recordSuccess(resp.Metadata.Provenance.Backend, duration)
	b.emit("request:success", map[string]any{"requestId": req.Metadata.RequestID, "durationMs": duration.Milliseconds()})

	return b.frontend.FromIR(resp)
}

// ChatStream is the streaming analogue of Chat.
func (b *Bridge) ChatStream(ctx context.Context, dialectRequest []byte, opts Options) (<-chan []byte, error) {
	req, err := b.frontend.ToIR(dialectRequest)
	if err != nil {
		return nil, err
	}
	b.prepareRequest(req, opts)
	req.Stream = true

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	b.emit("stream:start", map[string]any{"requestId": req.Metadata.RequestID})
	start := time.Now()

	rc := middleware.NewRequestContext(req)
	if opts.Backend != "" {
		rc.Backend = opts.Backend
	}

	preRouting := func(ctx context.Context, rc *middleware.RequestContext) (*ir.Response, error) {
		return nil, nil
	}
	if _, err := b.chain.Run(ctx, rc, opts.SkipMiddleware, true, preRouting); err != nil {
		b.recordFailure(rc.Backend, time.Since(start), err)
		b.emit("stream:error", map[string]any{"requestId": req.Metadata.RequestID, "error": err.Error()})
		return nil, err
	}

	preTerminal := func(ctx context.Context, rc *middleware.RequestContext) (<-chan ir.StreamChunk, error) {
		return nil, nil
	}
	if _, err := b.chain.RunStream(ctx, rc, opts.SkipMiddleware, true, preTerminal); err != nil {
		b.recordFailure(rc.Backend, time.Since(start), err)
		b.emit("stream:error", map[string]any{"requestId": req.Metadata.RequestID, "error": err.Error()})
		return nil, err
	}

	b.predictSelectedBackend(rc)

	terminal := func(ctx context.Context, rc *middleware.RequestContext) (<-chan ir.StreamChunk, error) {
		return b.target.ExecuteStream(ctx, rc.Request)
	}

	chunks, err := b.chain.RunStream(ctx, rc, opts.SkipMiddleware, false, terminal)
	if err != nil {
		b.recordFailure(rc.Backend, time.Since(start), err)
		b.emit("stream:error", map[string]any{"requestId": req.Metadata.RequestID, "error": err.Error()})
		return nil, err
	}

	b.stats.mu.Lock()
	b.stats.total++
	b.stats.streaming++
	b.stats.mu.Unlock()

	out := b.frontend.FromIRStream(ctx, b.instrumentedRelay(ctx, chunks, req.Metadata.RequestID, start))
	return out, nil
}

// instrumentedRelay forwards chunks, emitting stream:chunk per chunk and
// stream:complete/stream:error on termination, and surfacing
// cancellation as stream_cancelled per spec §5.
func (b *Bridge) instrumentedRelay(ctx context.Context, in <-chan ir.StreamChunk, requestID string, start time.Time) <-chan ir.StreamChunk {
	out := make(chan ir.StreamChunk)

	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				b.emit("stream:chunk", map[string]any{"requestId": requestID, "kind": string(chunk.Kind)})

				select {
				case out <- chunk:
				case <-ctx.Done():
					b.emit("stream:error", map[string]any{"requestId": requestID, "error": "stream_cancelled"})
					return
				}

				if chunk.Kind == ir.ChunkDone {
					b.emit("stream:complete", map[string]any{"requestId": requestID, "durationMs": time.Since(start).Milliseconds()})
					return
				}
				if chunk.Kind == ir.ChunkError {
					b.emit("stream:error", map[string]any{"requestId": requestID, "error": chunk.ErrorMessage})
					return
				}
			case <-ctx.Done():
				b.emit("stream:error", map[string]any{"requestId": requestID, "error": "stream_cancelled"})
				return
			}
		}
	}()

	return out
}

func (b *Bridge) recordSuccess(backendName string, duration time.Duration) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	b.stats.total++
	b.stats.successful++
	b.stats.latenciesMs = append(b.stats.latenciesMs, float64(duration.Milliseconds()))
	if backendName != "" {
		be := b.stats.perBackend[backendName]
		if be == nil {
			be = &ir.BackendStats{}
			b.stats.perBackend[backendName] = be
		}
		be.SuccessCount++
	}
}

func (b *Bridge) recordFailure(backendName string, duration time.Duration, err error) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	b.stats.total++
	b.stats.failed++
	code := "unknown_error"
	if ge, ok := err.(*gwerror.Error); ok {
		code = string(ge.Kind)
	}
	b.stats.errorCounts[code]++
	if backendName != "" {
		be := b.stats.perBackend[backendName]
		if be == nil {
			be = &ir.BackendStats{}
			b.stats.perBackend[backendName] = be
		}
		be.FailureCount++
	}
}

// Stats is a point-in-time snapshot of Bridge statistics.
type Stats struct {
	Total        int64
	Successful   int64
	Failed       int64
	Streaming    int64
	P50LatencyMs float64
	P95LatencyMs float64
	P99LatencyMs float64
	PerBackend   map[string]ir.BackendStats
	ErrorCounts  map[string]int64
	ResetAt      time.Time
}

// GetStats returns a snapshot of accumulated statistics.
func (b *Bridge) GetStats() Stats {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()

	perBackend := make(map[string]ir.BackendStats, len(b.stats.perBackend))
	for k, v := range b.stats.perBackend {
		perBackend[k] = *v
	}
	errorCounts := make(map[string]int64, len(b.stats.errorCounts))
	for k, v := range b.stats.errorCounts {
		errorCounts[k] = v
	}

	return Stats{
		Total:        b.stats.total,
		Successful:   b.stats.successful,
		Failed:       b.stats.failed,
		Streaming:    b.stats.streaming,
		P50LatencyMs: percentileOf(b.stats.latenciesMs, 0.50),
		P95LatencyMs: percentileOf(b.stats.latenciesMs, 0.95),
		P99LatencyMs: percentileOf(b.stats.latenciesMs, 0.99),
		PerBackend:   perBackend,
		ErrorCounts:  errorCounts,
		ResetAt:      b.stats.resetAt,
	}
}

// ResetStats clears accumulated statistics.
func (b *Bridge) ResetStats() {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	b.stats.total = 0
	b.stats.successful = 0
	b.stats.failed = 0
	b.stats.streaming = 0
	b.stats.latenciesMs = nil
	b.stats.perBackend = make(map[string]*ir.BackendStats)
	b.stats.errorCounts = make(map[string]int64)
	b.stats.resetAt = time.Now()
}

func percentileOf(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
