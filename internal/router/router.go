// Package router composes many backend.Adapters into one backend-shaped
// target: it selects among them per request, falls back on failure, and
// tracks per-backend health/circuit-breaker state. A Router itself
// satisfies backend.Adapter, so a Bridge can hold either a single
// backend or a Router as its target transparently.
package router

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/hnolan/irgateway/internal/backend"
	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// SelectionStrategy names a backend-selection policy.
type SelectionStrategy string

const (
	StrategyExplicit         SelectionStrategy = "explicit"
	StrategyModelBased       SelectionStrategy = "model-based"
	StrategyCostOptimized    SelectionStrategy = "cost-optimized"
	StrategyLatencyOptimized SelectionStrategy = "latency-optimized"
	StrategyRoundRobin       SelectionStrategy = "round-robin"
	StrategyRandom           SelectionStrategy = "random"
	StrategyCustom           SelectionStrategy = "custom"
)

// FallbackStrategy names a failure-recovery policy.
type FallbackStrategy string

const (
	FallbackNone       FallbackStrategy = "none"
	FallbackSequential FallbackStrategy = "sequential"
	FallbackParallel   FallbackStrategy = "parallel"
	FallbackCustom     FallbackStrategy = "custom"
)

// ModelPattern maps a compiled regex to a backend name, consulted in
// order when ModelMapping has no exact match.
type ModelPattern struct {
	Pattern *regexp.Regexp
	Backend string
}

// CustomSelector implements strategy "custom".
type CustomSelector func(req *ir.Request, available []string) (string, error)

// CustomFallback implements fallback "custom": given the last error and
// the backends already attempted, choose the next one or stop.
type CustomFallback func(req *ir.Request, lastErr error, attempted []string) (next string, ok bool)

// EventFunc receives router lifecycle events (backend:selected,
// backend:failover, backend:health, all_backends_failed) for a Bridge to
// forward to its own subscribers.
type EventFunc func(name string, payload map[string]any)

// Config is the router's selection/fallback/circuit-breaker policy.
type Config struct {
	RoutingStrategy         SelectionStrategy
	FallbackStrategy        FallbackStrategy
	DefaultBackend          string
	HealthCheckInterval     time.Duration
	EnableCircuitBreaker    bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	TrackLatency            bool
	TrackCost               bool

	ModelMapping  map[string]string
	ModelPatterns []ModelPattern
	FallbackChain []string

	CustomSelect   CustomSelector
	CustomFallback CustomFallback
}

type registryEntry struct {
	mu              sync.Mutex
	adapter         backend.Adapter
	breaker         *circuitBreaker
	isHealthy       bool
	lastHealthCheck *time.Time
	stats           ir.BackendStats
	latenciesMs     []float64
}

func (e *registryEntry) recordSuccess(latencyMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.SuccessCount++
	e.latenciesMs = append(e.latenciesMs, latencyMs)
	if len(e.latenciesMs) > 200 {
		e.latenciesMs = e.latenciesMs[len(e.latenciesMs)-200:]
	}
	e.stats.P50LatencyMs = percentile(e.latenciesMs, 0.50)
	e.stats.P95LatencyMs = percentile(e.latenciesMs, 0.95)
	e.stats.P99LatencyMs = percentile(e.latenciesMs, 0.99)
}

func (e *registryEntry) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.FailureCount++
}

func (e *registryEntry) snapshot(name string) ir.BackendInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ir.BackendInfo{
		Name:                name,
		IsHealthy:           e.isHealthy,
		LastHealthCheck:     e.lastHealthCheck,
		CircuitState:        e.breaker.State(),
		ConsecutiveFailures: e.breaker.ConsecutiveFailures(),
		Stats:               e.stats,
	}
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Router composes multiple backend.Adapters behind selection, fallback,
// and circuit-breaking policy. Safe for concurrent use: registry
// mutations are serialized by mu; per-backend bookkeeping uses its own
// lock and is never held while a provider call is in flight.
type Router struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*registryEntry
	cfg     Config
	rr      uint64
	onEvent EventFunc

	healthStop chan struct{}
}

// New constructs a Router with the given policy. onEvent may be nil.
func New(cfg Config, onEvent EventFunc) *Router {
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 60 * time.Second
	}
	if onEvent == nil {
		onEvent = func(string, map[string]any) {}
	}
	return &Router{
		entries: make(map[string]*registryEntry),
		cfg:     cfg,
		onEvent: onEvent,
	}
}

// Register adds a backend to the registry. Re-registering a name
// replaces it.
func (r *Router) Register(name string, adapter backend.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = &registryEntry{
		adapter:   adapter,
		breaker:   newCircuitBreaker(r.cfg.CircuitBreakerThreshold, r.cfg.CircuitBreakerTimeout),
		isHealthy: true,
	}
}

// Unregister removes a backend from the registry.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Name satisfies backend.Adapter.
func (r *Router) Name() string { return "router" }

// Capabilities aggregates registered backends' capabilities permissively
// (OR over booleans, max over numeric limits) so upstream validation
// doesn't reject a parameter that *some* eligible backend could handle.
func (r *Router) Capabilities() ir.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var caps ir.Capabilities
	for _, name := range r.order {
		c := r.entries[name].adapter.Capabilities()
		caps.Streaming = caps.Streaming || c.Streaming
		caps.MultiModal = caps.MultiModal || c.MultiModal
		caps.Tools = caps.Tools || c.Tools
		caps.SupportsTemperature = caps.SupportsTemperature || c.SupportsTemperature
		caps.SupportsTopP = caps.SupportsTopP || c.SupportsTopP
		caps.SupportsTopK = caps.SupportsTopK || c.SupportsTopK
		caps.SupportsSeed = caps.SupportsSeed || c.SupportsSeed
		caps.SupportsFrequencyPenalty = caps.SupportsFrequencyPenalty || c.SupportsFrequencyPenalty
		caps.SupportsPresencePenalty = caps.SupportsPresencePenalty || c.SupportsPresencePenalty
		if c.MaxContextTokens > caps.MaxContextTokens {
			caps.MaxContextTokens = c.MaxContextTokens
		}
		if c.MaxStopSequences > caps.MaxStopSequences {
			caps.MaxStopSequences = c.MaxStopSequences
		}
	}
	return caps
}

// ListBackends returns the router's public view of every registered
// backend, in registration order.
func (r *Router) ListBackends() []ir.BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ir.BackendInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].snapshot(name))
	}
	return out
}

func (r *Router) healthyBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy []string
	for _, name := range r.order {
		e := r.entries[name]
		e.mu.Lock()
		ok := e.isHealthy
		e.mu.Unlock()
		if ok && e.breaker.Allow() {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

func (r *Router) entry(name string) (*registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// OpenCircuitBreaker forces a backend's breaker open, optionally for a
// specific duration.
func (r *Router) OpenCircuitBreaker(name string, timeout *time.Duration) error {
	e, ok := r.entry(name)
	if !ok {
		return gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))
	}
	e.breaker.Open(timeout)
	return nil
}

// CloseCircuitBreaker forces a backend's breaker closed.
func (r *Router) CloseCircuitBreaker(name string) error {
	e, ok := r.entry(name)
	if !ok {
		return gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))
	}
	e.breaker.Close()
	return nil
}

// ResetCircuitBreaker clears a backend's counters, or every backend's if
// name is empty.
func (r *Router) ResetCircuitBreaker(name string) error {
	if name == "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, e := range r.entries {
			e.breaker.Reset()
		}
		return nil
	}
	e, ok := r.entry(name)
	if !ok {
		return gwerror.New(gwerror.KindNoBackendAvailable, fmt.Sprintf("unknown backend %q", name))
	}
	e.breaker.Reset()
	return nil
}

func (r *Router) emit(name string, payload map[string]any) {
	r.onEvent(name, payload)
}
