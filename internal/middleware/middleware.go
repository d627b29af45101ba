// Package middleware implements the gateway's (ctx, next) -> response
// chain: deterministic request-phase/response-phase ordering, at-most-once
// next invocation, skipMiddleware, and runBeforeRouting.
package middleware

import (
	"context"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// RequestContext is the mutable-by-replacement context threaded through a
// middleware chain. Request may be swapped out by a middleware (it is a
// pointer the chain re-reads on every hop); Backend is populated once
// routing has happened and is immutable afterward; State is a
// shared scratch map for passing values between middlewares.
type RequestContext struct {
	Request *ir.Request
	Backend string
	State   map[string]any
}

// NewRequestContext creates a RequestContext ready to enter a chain.
func NewRequestContext(req *ir.Request) *RequestContext {
	return &RequestContext{Request: req, State: make(map[string]any)}
}

// Terminal is the innermost function a chain wraps — typically a call
// into the backend target (a single backend.Adapter or a Router).
type Terminal func(ctx context.Context, rc *RequestContext) (*ir.Response, error)

// Next is what a Middleware calls to continue the chain. It MUST be
// called at most once per Handle invocation.
type Next func(ctx context.Context, rc *RequestContext) (*ir.Response, error)

// Middleware wraps request handling. Implementations that want to run
// before backend selection (e.g. request validation, auth) should report
// RunBeforeRouting() == true.
type Middleware interface {
	Name() string
	RunBeforeRouting() bool
	Handle(ctx context.Context, rc *RequestContext, next Next) (*ir.Response, error)
}

// StreamNext is the streaming analogue of Next.
type StreamNext func(ctx context.Context, rc *RequestContext) (<-chan ir.StreamChunk, error)

// StreamMiddleware is the streaming analogue of Middleware: it may wrap
// the returned channel in a transformed generator.
type StreamMiddleware interface {
	Name() string
	RunBeforeRouting() bool
	HandleStream(ctx context.Context, rc *RequestContext, next StreamNext) (<-chan ir.StreamChunk, error)
}

// guardedNext wraps a Next so a second invocation fails fast with a
// middleware_error instead of silently re-running downstream work.
func guardedNext(name string, next Next) Next {
	called := false
	return func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		if called {
			return nil, gwerror.New(gwerror.KindMiddlewareError, "middleware \""+name+"\" called next more than once")
		}
		called = true
		return next(ctx, rc)
	}
}

func guardedStreamNext(name string, next StreamNext) StreamNext {
	called := false
	return func(ctx context.Context, rc *RequestContext) (<-chan ir.StreamChunk, error) {
		if called {
			return nil, gwerror.New(gwerror.KindMiddlewareError, "middleware \""+name+"\" called next more than once")
		}
		called = true
		return next(ctx, rc)
	}
}

// Chain composes a list of middlewares (in registration order) around a
// terminal function. Request-phase code of each middleware runs in
// registration order as the chain descends; response-phase code
// (anything after its `next` call returns) unwinds in the reverse order,
// simply by virtue of each middleware being an onion layer around the
// next.
type Chain struct {
	middlewares []Middleware
	streaming   []StreamMiddleware
}

// NewChain builds an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Use appends a non-streaming middleware.
func (c *Chain) Use(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// UseStream appends a streaming middleware.
func (c *Chain) UseStream(m StreamMiddleware) {
	c.streaming = append(c.streaming, m)
}

// Remove drops the first middleware (of either kind) matching name.
// Reports whether anything was removed.
func (c *Chain) Remove(name string) bool {
	for i, m := range c.middlewares {
		if m.Name() == name {
			c.middlewares = append(c.middlewares[:i], c.middlewares[i+1:]...)
			return true
		}
	}
	for i, m := range c.streaming {
		if m.Name() == name {
			c.streaming = append(c.streaming[:i], c.streaming[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every registered middleware.
func (c *Chain) Clear() {
	c.middlewares = nil
	c.streaming = nil
}

// List returns the names of registered middleware in registration order.
func (c *Chain) List() []string {
	names := make([]string, 0, len(c.middlewares)+len(c.streaming))
	for _, m := range c.middlewares {
		names = append(names, m.Name())
	}
	for _, m := range c.streaming {
		names = append(names, m.Name())
	}
	return names
}

// Run executes the chain around terminal. skipMiddleware bypasses the
// entire stack. beforeRouting selects whether only RunBeforeRouting
// middlewares run (the pre-routing pass) or only the rest (the
// post-routing pass). A caller always calls Run twice, once with each
// value: once before any backend selection happens and once with the
// terminal that performs the actual dispatch, even when that dispatch is
// a Router's own internal selection — "before backend selection" means
// before any selection occurs, not just before a caller-owned one.
func (c *Chain) Run(ctx context.Context, rc *RequestContext, skipMiddleware, beforeRouting bool, terminal Terminal) (*ir.Response, error) {
	if skipMiddleware {
		return terminal(ctx, rc)
	}

	var selected []Middleware
	for _, m := range c.middlewares {
		if m.RunBeforeRouting() == beforeRouting {
			selected = append(selected, m)
		}
	}
	return runChain(ctx, rc, selected, 0, terminal)
}

func runChain(ctx context.Context, rc *RequestContext, chain []Middleware, i int, terminal Terminal) (*ir.Response, error) {
	if i >= len(chain) {
		return terminal(ctx, rc)
	}
	m := chain[i]
	next := guardedNext(m.Name(), func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		return runChain(ctx, rc, chain, i+1, terminal)
	})
	return m.Handle(ctx, rc, next)
}

// RunStream is the streaming analogue of Run.
func (c *Chain) RunStream(ctx context.Context, rc *RequestContext, skipMiddleware, beforeRouting bool, terminal StreamNext) (<-chan ir.StreamChunk, error) {
	if skipMiddleware {
		return terminal(ctx, rc)
	}

	var selected []StreamMiddleware
	for _, m := range c.streaming {
		if m.RunBeforeRouting() == beforeRouting {
			selected = append(selected, m)
		}
	}
	return runStreamChain(ctx, rc, selected, 0, terminal)
}

func runStreamChain(ctx context.Context, rc *RequestContext, chain []StreamMiddleware, i int, terminal StreamNext) (<-chan ir.StreamChunk, error) {
	if i >= len(chain) {
		return terminal(ctx, rc)
	}
	m := chain[i]
	next := guardedStreamNext(m.Name(), func(ctx context.Context, rc *RequestContext) (<-chan ir.StreamChunk, error) {
		return runStreamChain(ctx, rc, chain, i+1, terminal)
	})
	return m.HandleStream(ctx, rc, next)
}
