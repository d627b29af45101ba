package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartHealthChecksUpdatesBackendHealth(t *testing.T) {
	a := newFakeAdapter("a")
	a.healthy = false

	r := New(Config{HealthCheckInterval: 5 * time.Millisecond}, nil)
	r.Register("a", a)

	stop := r.StartHealthChecks(context.Background(), 0)
	defer stop()

	assert.Eventually(t, func() bool {
		info := r.ListBackends()[0]
		return !info.IsHealthy
	}, time.Second, 5*time.Millisecond)
}

func TestStartHealthChecksNoOpWhenIntervalZero(t *testing.T) {
	r := New(Config{}, nil)
	r.Register("a", newFakeAdapter("a"))

	stop := r.StartHealthChecks(context.Background(), 0)
	stop()
}

func TestStartHealthChecksEmitsHealthEvent(t *testing.T) {
	var gotEvent bool
	onEvent := func(name string, payload map[string]any) {
		if name == "backend:health" {
			gotEvent = true
		}
	}

	r := New(Config{HealthCheckInterval: 5 * time.Millisecond}, onEvent)
	r.Register("a", newFakeAdapter("a"))

	stop := r.StartHealthChecks(context.Background(), 0)
	defer stop()

	assert.Eventually(t, func() bool { return gotEvent }, time.Second, 5*time.Millisecond)
}
