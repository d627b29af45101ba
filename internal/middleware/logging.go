package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/hnolan/irgateway/ir"
)

// Logging is a built-in middleware that logs request start/end and
// outcome via log/slog, in the style the resilience package in the
// reference corpus uses for circuit-breaker state transitions.
type Logging struct {
	logger *slog.Logger
	before bool
}

// LoggingOption configures a Logging middleware at construction time.
type LoggingOption func(*Logging)

// WithBeforeRouting makes the middleware run in the pre-routing pass
// (RunBeforeRouting returns true) instead of the default post-routing pass.
func WithBeforeRouting() LoggingOption {
	return func(l *Logging) { l.before = true }
}

// NewLogging builds a Logging middleware. If logger is nil, slog.Default()
// is used. By default it runs post-routing; pass WithBeforeRouting() to run
// it before backend selection instead.
func NewLogging(logger *slog.Logger, opts ...LoggingOption) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logging{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logging) Name() string          { return "logging" }
func (l *Logging) RunBeforeRouting() bool { return l.before }

func (l *Logging) Handle(ctx context.Context, rc *RequestContext, next Next) (*ir.Response, error) {
	requestID := rc.Request.Metadata.RequestID
	start := time.Now()
	l.logger.Info("request start", "requestId", requestID, "backend", rc.Backend)

	resp, err := next(ctx, rc)

	duration := time.Since(start)
	if err != nil {
		l.logger.Warn("request failed", "requestId", requestID, "backend", rc.Backend, "durationMs", duration.Milliseconds(), "error", err)
		return resp, err
	}
	l.logger.Info("request success", "requestId", requestID, "backend", rc.Backend, "durationMs", duration.Milliseconds())
	return resp, nil
}
