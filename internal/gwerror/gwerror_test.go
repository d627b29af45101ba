package gwerror

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status      int
		wantKind    Kind
		wantCategory Category
		wantRetry   bool
	}{
		{401, KindInvalidAPIKey, CategoryAuthentication, false},
		{403, KindInsufficientPermissions, CategoryAuthorization, false},
		{429, KindRateLimitExceeded, CategoryRateLimit, true},
		{400, KindInvalidRequest, CategoryValidation, false},
		{503, KindProviderError, CategoryProvider, true},
		{418, KindProviderError, CategoryProvider, false},
	}

	for _, tc := range cases {
		err := FromHTTPStatus(tc.status, "status text", "body", nil)
		assert.Equal(t, tc.wantKind, err.Kind, "status %d", tc.status)
		assert.Equal(t, tc.wantCategory, err.Category, "status %d", tc.status)
		assert.Equal(t, tc.wantRetry, err.IsRetryable, "status %d", tc.status)
	}
}

func TestFromHTTPStatus429CarriesRateLimitInfo(t *testing.T) {
	err := FromHTTPStatus(429, "Too Many Requests", "", nil)
	require.NotNil(t, err.RateLimit)
}

func TestFromHTTPStatus429ParsesRetryAfterSeconds(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	err := FromHTTPStatus(429, "Too Many Requests", "", headers)
	require.NotNil(t, err.RateLimit.RetryAfter)
	assert.Equal(t, 30*time.Second, *err.RateLimit.RetryAfter)
}

func TestFromHTTPStatus429ParsesLimitAndRemainingHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", "60")
	headers.Set("X-RateLimit-Remaining", "5")
	err := FromHTTPStatus(429, "Too Many Requests", "", headers)
	require.NotNil(t, err.RateLimit.Limit)
	require.NotNil(t, err.RateLimit.Remaining)
	assert.Equal(t, 60, *err.RateLimit.Limit)
	assert.Equal(t, 5, *err.RateLimit.Remaining)
}

func TestFromHTTPStatus429WithNoHeadersLeavesFieldsNil(t *testing.T) {
	err := FromHTTPStatus(429, "Too Many Requests", "", http.Header{})
	assert.Nil(t, err.RateLimit.RetryAfter)
	assert.Nil(t, err.RateLimit.Limit)
}

func TestWrapPreservesCauseChain(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindNetworkError, "request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CategoryNetwork, err.Category)
	assert.True(t, err.IsRetryable)
}

func TestIsMatchesWrappedKind(t *testing.T) {
	inner := New(KindStreamCancelled, "cancelled by consumer")
	outer := errors.New("stream read failed")
	wrapped := &wrapErr{msg: "outer", err: inner}
	_ = outer

	assert.True(t, Is(wrapped, KindStreamCancelled))
	assert.False(t, Is(wrapped, KindStreamInterrupted))
}

// wrapErr is a minimal errors.Wrapper used only to exercise Is's unwrap
// traversal through a non-*Error layer.
type wrapErr struct {
	msg string
	err error
}

func (w *wrapErr) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }

func TestMiddlewareErrorIsNotRetryable(t *testing.T) {
	err := New(KindMiddlewareError, "next invoked twice")
	assert.False(t, err.IsRetryable)
	assert.Equal(t, CategoryMiddleware, err.Category)
}
