package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/ir"
)

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimit(1000, 5, false)
	calls := 0
	next := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		calls++
		return &ir.Response{}, nil
	}

	for i := 0; i < 5; i++ {
		_, err := rl.Handle(context.Background(), NewRequestContext(&ir.Request{}), next)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, calls)
}

func TestRateLimitWaitsForTokensBeyondBurst(t *testing.T) {
	rl := NewRateLimit(1000, 1, false)
	next := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		return &ir.Response{}, nil
	}

	ctx := context.Background()
	_, err := rl.Handle(ctx, NewRequestContext(&ir.Request{}), next)
	require.NoError(t, err)

	start := time.Now()
	_, err = rl.Handle(ctx, NewRequestContext(&ir.Request{}), next)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), time.Duration(0))
}

func TestRateLimitCancelledContextReturnsRateLimitError(t *testing.T) {
	rl := NewRateLimit(1, 1, false)
	next := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		return &ir.Response{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := rl.Handle(ctx, NewRequestContext(&ir.Request{}), next)
	require.NoError(t, err)

	cancel()
	_, err = rl.Handle(ctx, NewRequestContext(&ir.Request{}), next)
	require.Error(t, err)
}

func TestRateLimitPerBackendUsesIndependentBuckets(t *testing.T) {
	rl := NewRateLimit(1000, 1, true)
	next := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		return &ir.Response{}, nil
	}

	rcA := NewRequestContext(&ir.Request{})
	rcA.Backend = "backend-a"
	rcB := NewRequestContext(&ir.Request{})
	rcB.Backend = "backend-b"

	_, err := rl.Handle(context.Background(), rcA, next)
	require.NoError(t, err)
	_, err = rl.Handle(context.Background(), rcB, next)
	require.NoError(t, err)

	assert.NotSame(t, rl.limiterFor("backend-a"), rl.limiterFor("backend-b"))
}
