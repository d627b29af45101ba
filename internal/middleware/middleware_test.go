package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/ir"
)

type recordingMiddleware struct {
	name          string
	before        bool
	trace         *[]string
	callNextTwice bool
	skipNext      bool
}

func (m *recordingMiddleware) Name() string           { return m.name }
func (m *recordingMiddleware) RunBeforeRouting() bool  { return m.before }
func (m *recordingMiddleware) Handle(ctx context.Context, rc *RequestContext, next Next) (*ir.Response, error) {
	*m.trace = append(*m.trace, m.name+":before")
	if m.skipNext {
		*m.trace = append(*m.trace, m.name+":short-circuit")
		return &ir.Response{Message: ir.Message{Text: "short-circuited"}}, nil
	}
	resp, err := next(ctx, rc)
	if m.callNextTwice {
		_, _ = next(ctx, rc)
	}
	*m.trace = append(*m.trace, m.name+":after")
	return resp, err
}

func TestChainRunsRequestPhaseInOrderAndUnwindsInReverse(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(&recordingMiddleware{name: "a", trace: &trace})
	c.Use(&recordingMiddleware{name: "b", trace: &trace})

	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		trace = append(trace, "terminal")
		return &ir.Response{}, nil
	}

	_, err := c.Run(context.Background(), NewRequestContext(&ir.Request{}), false, false, terminal)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:before", "b:before", "terminal", "b:after", "a:after"}, trace)
}

func TestChainSkipMiddlewareBypassesStack(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(&recordingMiddleware{name: "a", trace: &trace})

	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		trace = append(trace, "terminal")
		return &ir.Response{}, nil
	}

	_, err := c.Run(context.Background(), NewRequestContext(&ir.Request{}), true, false, terminal)
	require.NoError(t, err)
	assert.Equal(t, []string{"terminal"}, trace)
}

func TestChainShortCircuitSkipsDownstreamAndTerminal(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(&recordingMiddleware{name: "a", trace: &trace, skipNext: true})
	c.Use(&recordingMiddleware{name: "b", trace: &trace})

	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		trace = append(trace, "terminal")
		return &ir.Response{}, nil
	}

	resp, err := c.Run(context.Background(), NewRequestContext(&ir.Request{}), false, false, terminal)
	require.NoError(t, err)
	assert.Equal(t, "short-circuited", resp.Message.Text)
	assert.Equal(t, []string{"a:before", "a:short-circuit"}, trace)
}

func TestChainCallingNextTwiceFailsFast(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(&recordingMiddleware{name: "a", trace: &trace, callNextTwice: true})

	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		return &ir.Response{}, nil
	}

	_, err := c.Run(context.Background(), NewRequestContext(&ir.Request{}), false, false, terminal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "called next more than once")
}

func TestChainSeparatesBeforeAndAfterRoutingPasses(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(&recordingMiddleware{name: "auth", before: true, trace: &trace})
	c.Use(&recordingMiddleware{name: "logging", before: false, trace: &trace})

	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		trace = append(trace, "route")
		return &ir.Response{}, nil
	}

	_, err := c.Run(context.Background(), NewRequestContext(&ir.Request{}), false, true, terminal)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth:before", "route", "auth:after"}, trace)

	trace = nil
	_, err = c.Run(context.Background(), NewRequestContext(&ir.Request{}), false, false, terminal)
	require.NoError(t, err)
	assert.Equal(t, []string{"logging:before", "route", "logging:after"}, trace)
}

func TestChainRemoveAndClear(t *testing.T) {
	c := NewChain()
	c.Use(&recordingMiddleware{name: "a", trace: &[]string{}})
	c.Use(&recordingMiddleware{name: "b", trace: &[]string{}})

	assert.True(t, c.Remove("a"))
	assert.Equal(t, []string{"b"}, c.List())

	c.Clear()
	assert.Empty(t, c.List())
}
