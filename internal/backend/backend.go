// Package backend defines the backend-adapter contract: executing an IR
// request against a concrete provider and translating its response back
// to IR. Concrete providers live in subpackages (openai, anthropic,
// gemini); internal/router composes many Adapters into a backend pool.
package backend

import (
	"context"

	"github.com/hnolan/irgateway/ir"
)

// Adapter executes IR requests against one concrete provider.
type Adapter interface {
	// Name identifies the backend, e.g. "openai-backend".
	Name() string

	// Execute performs a non-streaming call.
	Execute(ctx context.Context, req *ir.Request) (*ir.Response, error)

	// ExecuteStream performs a streaming call. The returned channel is
	// closed on stream end, error, or ctx cancellation; exactly one
	// terminal ChunkDone or ChunkError chunk precedes closure.
	ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error)

	// Capabilities reports what this backend supports, driving parameter
	// validation/transform decisions upstream.
	Capabilities() ir.Capabilities
}

// HealthChecker is implemented by adapters that can probe liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// CostEstimator is implemented by adapters that can estimate a request's
// cost without executing it. A nil estimate means "unknown".
type CostEstimator interface {
	EstimateCost(req *ir.Request) *float64
}

// ModelSource indicates whether a ModelList came from a fresh remote
// fetch or the adapter's static fallback catalog.
type ModelSource string

const (
	ModelSourceStatic ModelSource = "static"
	ModelSourceRemote ModelSource = "remote"
)

// ModelList is the result of ListModels.
type ModelList struct {
	Models     []string
	Source     ModelSource
	FetchedAt  int64 // unix millis
	IsComplete bool
}

// ModelLister is implemented by adapters that can enumerate available
// models, typically backed by a TTL cache with a static fallback.
type ModelLister interface {
	ListModels(ctx context.Context) (ModelList, error)
}
