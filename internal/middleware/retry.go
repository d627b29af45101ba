package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// Retry wraps a Terminal with exponential-backoff retries of retryable
// gwerror failures. It is not a chain Middleware: the chain's next may be
// invoked at most once per middleware per spec, so retrying the backend
// call happens by wrapping the terminal stage itself, the same place
// §4.6 says Router fallback retries are visible to the rest of the
// chain — one "next" call from the chain's point of view, however many
// attempts it makes underneath.
type Retry struct {
	maxTries     uint
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewRetry builds a Retry wrapper. maxTries == 0 means the call is
// attempted exactly once, matching the spec's maxRetries=0 default.
func NewRetry(maxTries uint, initialDelay, maxDelay time.Duration) *Retry {
	if initialDelay <= 0 {
		initialDelay = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Retry{maxTries: maxTries, initialDelay: initialDelay, maxDelay: maxDelay}
}

// Wrap returns a Terminal that retries terminal on retryable failures.
func (r *Retry) Wrap(terminal Terminal) Terminal {
	return func(ctx context.Context, rc *RequestContext) (*ir.Response, error) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = r.initialDelay
		policy.MaxInterval = r.maxDelay

		operation := func() (*ir.Response, error) {
			resp, err := terminal(ctx, rc)
			if err == nil {
				return resp, nil
			}

			var gwErr *gwerror.Error
			if errors.As(err, &gwErr) && !gwErr.IsRetryable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		return backoff.Retry(ctx, operation, backoff.WithBackOff(policy), backoff.WithMaxTries(r.maxTries+1))
	}
}

// WrapStream is the streaming analogue of Wrap, retrying only the
// *connection* attempt — once a stream has started emitting chunks it is
// not restarted, per the streaming plumbing's non-restartable invariant.
func (r *Retry) WrapStream(terminal StreamNext) StreamNext {
	return func(ctx context.Context, rc *RequestContext) (<-chan ir.StreamChunk, error) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = r.initialDelay
		policy.MaxInterval = r.maxDelay

		operation := func() (<-chan ir.StreamChunk, error) {
			chunks, err := terminal(ctx, rc)
			if err == nil {
				return chunks, nil
			}

			var gwErr *gwerror.Error
			if errors.As(err, &gwErr) && !gwErr.IsRetryable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		return backoff.Retry(ctx, operation, backoff.WithBackOff(policy), backoff.WithMaxTries(r.maxTries+1))
	}
}
