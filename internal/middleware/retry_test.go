package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

func TestRetryWrapRetriesRetryableFailures(t *testing.T) {
	attempts := 0
	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, gwerror.New(gwerror.KindProviderOverloaded, "overloaded")
		}
		return &ir.Response{Message: ir.Message{Text: "ok"}}, nil
	}

	r := NewRetry(5, time.Millisecond, 10*time.Millisecond)
	wrapped := r.Wrap(terminal)

	resp, err := wrapped(context.Background(), NewRequestContext(&ir.Request{}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Text)
	assert.Equal(t, 3, attempts)
}

func TestRetryWrapDoesNotRetryNonRetryableFailures(t *testing.T) {
	attempts := 0
	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		attempts++
		return nil, gwerror.New(gwerror.KindInvalidAPIKey, "bad key")
	}

	r := NewRetry(5, time.Millisecond, 10*time.Millisecond)
	wrapped := r.Wrap(terminal)

	_, err := wrapped(context.Background(), NewRequestContext(&ir.Request{}))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWrapGivesUpAfterMaxTries(t *testing.T) {
	attempts := 0
	terminal := func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		attempts++
		return nil, gwerror.New(gwerror.KindProviderOverloaded, "still overloaded")
	}

	r := NewRetry(2, time.Millisecond, 5*time.Millisecond)
	wrapped := r.Wrap(terminal)

	_, err := wrapped(context.Background(), NewRequestContext(&ir.Request{}))
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt + 2 retries")
}
