package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hnolan/irgateway/internal/gwerror"
	"github.com/hnolan/irgateway/ir"
)

// RateLimit is a built-in middleware enforcing a token-bucket limit,
// either a single shared limiter or one limiter per backend.
type RateLimit struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	shared   *rate.Limiter
	perKey   map[string]*rate.Limiter
	perBackend bool
}

// NewRateLimit builds a RateLimit middleware allowing ratePerSecond
// requests/sec with the given burst. When perBackend is true, each
// backend name gets its own independent bucket; otherwise one bucket is
// shared across all requests.
func NewRateLimit(ratePerSecond float64, burst int, perBackend bool) *RateLimit {
	rl := &RateLimit{
		limit:      rate.Limit(ratePerSecond),
		burst:      burst,
		perBackend: perBackend,
	}
	if !perBackend {
		rl.shared = rate.NewLimiter(rl.limit, burst)
	} else {
		rl.perKey = make(map[string]*rate.Limiter)
	}
	return rl
}

func (rl *RateLimit) Name() string          { return "ratelimit" }
func (rl *RateLimit) RunBeforeRouting() bool { return false }

func (rl *RateLimit) limiterFor(key string) *rate.Limiter {
	if !rl.perBackend {
		return rl.shared
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.perKey[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.perKey[key] = l
	}
	return l
}

func (rl *RateLimit) Handle(ctx context.Context, rc *RequestContext, next Next) (*ir.Response, error) {
	limiter := rl.limiterFor(rc.Backend)
	if err := limiter.Wait(ctx); err != nil {
		return nil, gwerror.Wrap(gwerror.KindRateLimitExceeded, "rate limit wait cancelled", err)
	}
	return next(ctx, rc)
}
