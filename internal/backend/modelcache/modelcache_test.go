package modelcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/internal/backend"
)

func TestGetFetchesOnFirstCall(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"model-a", "model-b"}, nil
	}, time.Minute, []string{"static-a"})

	list := c.Get(context.Background())
	assert.Equal(t, backend.ModelSourceRemote, list.Source)
	assert.Equal(t, []string{"model-a", "model-b"}, list.Models)
	assert.True(t, list.IsComplete)
	assert.Equal(t, 1, calls)
}

func TestGetServesCachedValueWithinTTL(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"model-a"}, nil
	}, time.Hour, nil)

	c.Get(context.Background())
	c.Get(context.Background())
	c.Get(context.Background())

	assert.Equal(t, 1, calls, "second and third Get should be served from cache")
}

func TestGetRefetchesAfterTTLExpires(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"model-a"}, nil
	}, time.Millisecond, nil)

	c.Get(context.Background())
	time.Sleep(5 * time.Millisecond)
	c.Get(context.Background())

	assert.Equal(t, 2, calls)
}

func TestGetFallsBackToStaticOnFirstFetchFailure(t *testing.T) {
	c := New(func(ctx context.Context) ([]string, error) {
		return nil, errors.New("boom")
	}, time.Minute, []string{"static-a", "static-b"})

	list := c.Get(context.Background())
	assert.Equal(t, backend.ModelSourceStatic, list.Source)
	assert.Equal(t, []string{"static-a", "static-b"}, list.Models)
	assert.False(t, list.IsComplete)
	require.Error(t, c.LastError())
}

func TestGetServesStaleCacheOnSubsequentFetchFailure(t *testing.T) {
	succeed := true
	c := New(func(ctx context.Context) ([]string, error) {
		if succeed {
			return []string{"model-a"}, nil
		}
		return nil, errors.New("transient")
	}, time.Millisecond, []string{"static-a"})

	first := c.Get(context.Background())
	require.Equal(t, backend.ModelSourceRemote, first.Source)

	succeed = false
	time.Sleep(5 * time.Millisecond)
	second := c.Get(context.Background())

	assert.Equal(t, backend.ModelSourceRemote, second.Source, "serves stale remote data, not static, once a fetch has succeeded")
	assert.Equal(t, []string{"model-a"}, second.Models)
	assert.False(t, second.IsComplete)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"model-a"}, nil
	}, time.Hour, nil)

	c.Get(context.Background())
	c.Invalidate()
	c.Get(context.Background())

	assert.Equal(t, 2, calls)
}
