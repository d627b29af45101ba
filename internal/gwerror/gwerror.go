// Package gwerror implements the gateway's normalized error taxonomy:
// every error that crosses a frontend, backend, middleware, or router
// boundary is a *Error carrying a category, a kind, and a retryability
// verdict, so callers never have to sniff provider-specific error shapes.
package gwerror

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hnolan/irgateway/ir"
)

// Category groups related Kinds for coarse-grained handling.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryRateLimit      Category = "rate_limit"
	CategoryValidation     Category = "validation"
	CategoryProvider       Category = "provider"
	CategoryAdapter        Category = "adapter"
	CategoryNetwork        Category = "network"
	CategoryStream         Category = "stream"
	CategoryRouter         Category = "router"
	CategoryMiddleware     Category = "middleware"
	CategoryUnknown        Category = "unknown"
)

// Kind is a specific error code within a Category.
type Kind string

const (
	KindInvalidAPIKey    Kind = "invalid_api_key"
	KindMissingAPIKey    Kind = "missing_api_key"
	KindExpiredAPIKey    Kind = "expired_api_key"

	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindQuotaExceeded           Kind = "quota_exceeded"

	KindRateLimitExceeded Kind = "rate_limit_exceeded"

	KindInvalidRequest        Kind = "invalid_request"
	KindInvalidMessageFormat  Kind = "invalid_message_format"
	KindInvalidParameters     Kind = "invalid_parameters"
	KindUnsupportedModel      Kind = "unsupported_model"
	KindUnsupportedFeature    Kind = "unsupported_feature"
	KindContextLengthExceeded Kind = "context_length_exceeded"

	KindProviderError       Kind = "provider_error"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderOverloaded  Kind = "provider_overloaded"

	KindAdapterConversionError Kind = "adapter_conversion_error"
	KindAdapterValidationError Kind = "adapter_validation_error"
	KindUnsupportedConversion  Kind = "unsupported_conversion"
	KindSemanticDriftError     Kind = "semantic_drift_error"

	KindNetworkError        Kind = "network_error"
	KindConnectionTimeout   Kind = "connection_timeout"
	KindDNSResolutionFailed Kind = "dns_resolution_failed"

	KindStreamError      Kind = "stream_error"
	KindStreamInterrupted Kind = "stream_interrupted"
	KindStreamParseError  Kind = "stream_parse_error"
	KindStreamCancelled   Kind = "stream_cancelled"

	KindNoBackendAvailable Kind = "no_backend_available"
	KindRoutingFailed      Kind = "routing_failed"
	KindAllBackendsFailed  Kind = "all_backends_failed"

	KindMiddlewareError Kind = "middleware_error"

	KindInternalError Kind = "internal_error"
	KindUnknownError  Kind = "unknown_error"
)

var categoryByKind = map[Kind]Category{
	KindInvalidAPIKey: CategoryAuthentication,
	KindMissingAPIKey: CategoryAuthentication,
	KindExpiredAPIKey: CategoryAuthentication,

	KindInsufficientPermissions: CategoryAuthorization,
	KindQuotaExceeded:           CategoryAuthorization,

	KindRateLimitExceeded: CategoryRateLimit,

	KindInvalidRequest:        CategoryValidation,
	KindInvalidMessageFormat:  CategoryValidation,
	KindInvalidParameters:     CategoryValidation,
	KindUnsupportedModel:      CategoryValidation,
	KindUnsupportedFeature:    CategoryValidation,
	KindContextLengthExceeded: CategoryValidation,

	KindProviderError:       CategoryProvider,
	KindProviderUnavailable: CategoryProvider,
	KindProviderTimeout:     CategoryProvider,
	KindProviderOverloaded:  CategoryProvider,

	KindAdapterConversionError: CategoryAdapter,
	KindAdapterValidationError: CategoryAdapter,
	KindUnsupportedConversion:  CategoryAdapter,
	KindSemanticDriftError:     CategoryAdapter,

	KindNetworkError:        CategoryNetwork,
	KindConnectionTimeout:   CategoryNetwork,
	KindDNSResolutionFailed: CategoryNetwork,

	KindStreamError:       CategoryStream,
	KindStreamInterrupted: CategoryStream,
	KindStreamParseError:  CategoryStream,
	KindStreamCancelled:   CategoryStream,

	KindNoBackendAvailable: CategoryRouter,
	KindRoutingFailed:      CategoryRouter,
	KindAllBackendsFailed:  CategoryRouter,

	KindMiddlewareError: CategoryMiddleware,

	KindInternalError: CategoryUnknown,
	KindUnknownError:  CategoryUnknown,
}

// defaultRetryable holds the taxonomy's baseline retryability per Kind.
// Provider-category kinds default to retryable here; FromHTTPStatus
// overrides IsRetryable to false for a non-5xx status it maps to
// provider_error.
var defaultRetryable = map[Kind]bool{
	KindRateLimitExceeded: true,

	KindProviderError:       true,
	KindProviderUnavailable: true,
	KindProviderTimeout:     true,
	KindProviderOverloaded:  true,

	KindNetworkError:        true,
	KindConnectionTimeout:   true,
	KindDNSResolutionFailed: true,

	KindStreamInterrupted: true,

	KindAllBackendsFailed: true,
}

// RateLimitInfo carries the optional fields the taxonomy allows on a
// rate_limit_exceeded error.
type RateLimitInfo struct {
	RetryAfter *time.Duration
	Limit      *int
	Remaining  *int
	ResetAt    *time.Time
}

// Error is the gateway's single normalized error type. Every boundary
// (frontend, backend, middleware, router) constructs or passes through a
// value of this type rather than a provider-specific error.
type Error struct {
	Kind        Kind
	Category    Category
	Message     string
	IsRetryable bool
	Provenance  ir.Provenance
	Cause       error
	IRState     any // request or partial response at failure, if available
	Timestamp   time.Time
	RateLimit   *RateLimitInfo
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a normalized Error for kind with the given message,
// deriving Category and IsRetryable from the taxonomy table.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:        kind,
		Category:    categoryByKind[kind],
		Message:     message,
		IsRetryable: defaultRetryable[kind],
		Timestamp:   time.Now(),
	}
}

// Wrap constructs a normalized Error that carries cause as its Unwrap
// chain target.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithProvenance returns e with Provenance set, for chaining at the call
// site that detected the failure.
func (e *Error) WithProvenance(p ir.Provenance) *Error {
	e.Provenance = p
	return e
}

// WithIRState attaches the request or partial response in flight when the
// error occurred, for diagnostic purposes.
func (e *Error) WithIRState(state any) *Error {
	e.IRState = state
	return e
}

// FromHTTPStatus builds a normalized Error from an HTTP response's status,
// status text, body, and headers, per the deterministic mapping in the
// taxonomy: 401→invalid_api_key, 403→insufficient_permissions,
// 429→rate_limit_exceeded (with RateLimit parsed from headers),
// 400→invalid_request, >=500→provider_error (retryable), else a generic
// provider error with IsRetryable = status >= 500. headers may be nil.
func FromHTTPStatus(status int, statusText string, body string, headers http.Header) *Error {
	msg := statusText
	if body != "" {
		msg = fmt.Sprintf("%s: %s", statusText, body)
	}

	switch {
	case status == 401:
		return New(KindInvalidAPIKey, msg)
	case status == 403:
		return New(KindInsufficientPermissions, msg)
	case status == 429:
		e := New(KindRateLimitExceeded, msg)
		e.RateLimit = parseRateLimitInfo(headers)
		return e
	case status == 400:
		return New(KindInvalidRequest, msg)
	case status >= 500:
		return New(KindProviderError, msg)
	default:
		e := New(KindProviderError, msg)
		e.IsRetryable = status >= 500
		return e
	}
}

// limitHeaderNames, remainingHeaderNames and resetHeaderNames list the
// header spellings providers in the gateway's backend set use for
// limit/remaining/reset, tried in order.
var (
	limitHeaderNames     = []string{"X-RateLimit-Limit", "X-Ratelimit-Limit-Requests", "Anthropic-Ratelimit-Requests-Limit"}
	remainingHeaderNames = []string{"X-RateLimit-Remaining", "X-Ratelimit-Remaining-Requests", "Anthropic-Ratelimit-Requests-Remaining"}
	resetHeaderNames     = []string{"X-RateLimit-Reset", "X-Ratelimit-Reset-Requests", "Anthropic-Ratelimit-Requests-Reset"}
)

// parseRateLimitInfo extracts Retry-After and provider limit/remaining/reset
// headers into a RateLimitInfo. Unparseable or absent headers simply leave
// the corresponding field nil — callers branch on presence, not on a zero
// value standing in for "unknown".
func parseRateLimitInfo(headers http.Header) *RateLimitInfo {
	info := &RateLimitInfo{}
	if headers == nil {
		return info
	}

	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			d := time.Duration(secs) * time.Second
			info.RetryAfter = &d
		} else if t, err := http.ParseTime(v); err == nil {
			d := time.Until(t)
			info.RetryAfter = &d
		}
	}

	if n, ok := firstIntHeader(headers, limitHeaderNames); ok {
		info.Limit = &n
	}
	if n, ok := firstIntHeader(headers, remainingHeaderNames); ok {
		info.Remaining = &n
	}
	for _, name := range resetHeaderNames {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(secs, 0)
			info.ResetAt = &t
			break
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.ResetAt = &t
			break
		}
	}

	return info
}

func firstIntHeader(headers http.Header, names []string) (int, bool) {
	for _, name := range names {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Kind == kind
}
