package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// fakeAdapter is a scriptable backend.Adapter for router tests.
type fakeAdapter struct {
	name string

	mu       sync.Mutex
	calls    int
	fail     bool
	failErr  error
	healthy  bool
	latency  time.Duration
	estimate *float64
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, healthy: true}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Execute(ctx context.Context, req *ir.Request) (*ir.Response, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	failErr := f.failErr
	latency := f.latency
	f.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if fail {
		if failErr != nil {
			return nil, failErr
		}
		return nil, gwerror.New(gwerror.KindProviderOverloaded, "fake failure")
	}
	return &ir.Response{Message: ir.Message{Text: "ok from " + f.name}}, nil
}

func (f *fakeAdapter) ExecuteStream(ctx context.Context, req *ir.Request) (<-chan ir.StreamChunk, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, gwerror.New(gwerror.KindProviderOverloaded, "fake stream failure")
	}
	out := make(chan ir.StreamChunk, 1)
	out <- ir.StreamChunk{Kind: ir.ChunkDone}
	close(out)
	return out, nil
}

func (f *fakeAdapter) Capabilities() ir.Capabilities {
	return ir.Capabilities{Streaming: true, SupportsTemperature: true}
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeAdapter) EstimateCost(req *ir.Request) *float64 {
	return f.estimate
}

func (f *fakeAdapter) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRegisterAndListBackends(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))
	r.Register("b", newFakeAdapter("b"))

	list := r.ListBackends()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, ir.CircuitClosed, list[0].CircuitState)
}

func TestUnregisterRemovesBackend(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))
	r.Unregister("a")

	assert.Empty(t, r.ListBackends())
}

func TestExecuteNoneStrategyReturnsFirstBackendResult(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))

	resp, err := r.Execute(context.Background(), &ir.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok from a", resp.Message.Text)
}

func TestExecuteSequentialFallsBackOnRetryableFailure(t *testing.T) {
	a := newFakeAdapter("a")
	a.setFail(true)
	b := newFakeAdapter("b")

	r := New(Config{FallbackStrategy: FallbackSequential, FallbackChain: []string{"a", "b"}}, nil)
	r.Register("a", a)
	r.Register("b", b)

	resp, err := r.Execute(context.Background(), &ir.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok from b", resp.Message.Text)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestExecuteSequentialStopsOnNonRetryableFailure(t *testing.T) {
	a := newFakeAdapter("a")
	a.setFail(true)
	a.failErr = gwerror.New(gwerror.KindInvalidAPIKey, "bad key")
	b := newFakeAdapter("b")

	r := New(Config{FallbackStrategy: FallbackSequential, FallbackChain: []string{"a", "b"}}, nil)
	r.Register("a", a)
	r.Register("b", b)

	_, err := r.Execute(context.Background(), &ir.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 0, b.callCount())
}

func TestExecuteFailsWhenAllBackendsFail(t *testing.T) {
	a := newFakeAdapter("a")
	a.setFail(true)
	b := newFakeAdapter("b")
	b.setFail(true)

	r := New(Config{FallbackStrategy: FallbackSequential, FallbackChain: []string{"a", "b"}}, nil)
	r.Register("a", a)
	r.Register("b", b)

	_, err := r.Execute(context.Background(), &ir.Request{})
	require.Error(t, err)
	var gwErr *gwerror.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerror.KindAllBackendsFailed, gwErr.Kind)
}

func TestCircuitBreakerOpensAfterThresholdAndBlocksSelection(t *testing.T) {
	a := newFakeAdapter("a")
	a.setFail(true)

	r := New(Config{CircuitBreakerThreshold: 2}, nil)
	r.Register("a", a)

	_, _ = r.Execute(context.Background(), &ir.Request{})
	_, _ = r.Execute(context.Background(), &ir.Request{})

	_, err := r.SelectBackend(&ir.Request{}, "")
	require.Error(t, err)

	info := r.ListBackends()[0]
	assert.Equal(t, ir.CircuitOpen, info.CircuitState)
}

func TestManualOpenCloseResetCircuitBreaker(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))

	require.NoError(t, r.OpenCircuitBreaker("a", nil))
	_, err := r.SelectBackend(&ir.Request{}, "")
	require.Error(t, err)

	require.NoError(t, r.CloseCircuitBreaker("a"))
	name, err := r.SelectBackend(&ir.Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", name)

	require.NoError(t, r.ResetCircuitBreaker(""))
}

func TestEventsEmittedOnSelectionAndFailover(t *testing.T) {
	var events []string
	var mu sync.Mutex
	onEvent := func(name string, payload map[string]any) {
		mu.Lock()
		events = append(events, name)
		mu.Unlock()
	}

	a := newFakeAdapter("a")
	a.setFail(true)
	b := newFakeAdapter("b")

	r := New(Config{FallbackStrategy: FallbackSequential, FallbackChain: []string{"a", "b"}}, onEvent)
	r.Register("a", a)
	r.Register("b", b)

	_, err := r.Execute(context.Background(), &ir.Request{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "backend:selected")
	assert.Contains(t, events, "backend:failover")
}

func TestExecuteStreamReturnsChannel(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))

	chunks, err := r.ExecuteStream(context.Background(), &ir.Request{})
	require.NoError(t, err)

	var got []ir.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Equal(t, ir.ChunkDone, got[0].Kind)
}

func TestConcurrentExecuteDoesNotRace(t *testing.T) {
	r := New(Config{RoutingStrategy: StrategyRoundRobin}, nil)
	r.Register("a", newFakeAdapter("a"))
	r.Register("b", newFakeAdapter("b"))

	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), &ir.Request{})
			if err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), successes)
}
