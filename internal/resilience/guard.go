package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrThrottled marks a call the upstream refused with HTTP 429.
var ErrThrottled = eris.New("upstream throttled the request")

// IsThrottled reports whether err is or wraps ErrThrottled.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// RequestsPerSecond caps calls to the provider. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Default: 1.
	Burst int

	// Breaker configures the circuit. A nil ShouldTrip trips on
	// ErrThrottled only.
	Breaker CircuitBreakerConfig
}

// Guard paces calls to an upstream and stops calling it after repeated
// throttling. A throttled call also halves the pace, down to a quarter of
// the configured rate; successes restore it gradually.
type Guard struct {
	breaker *CircuitBreaker
	limiter *rate.Limiter

	mu      sync.Mutex
	maxRate rate.Limit
	minRate rate.Limit
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Breaker.ShouldTrip == nil {
		cfg.Breaker.ShouldTrip = IsThrottled
	}
	g := &Guard{breaker: NewCircuitBreaker(cfg.Breaker)}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.maxRate = rate.Limit(cfg.RequestsPerSecond)
		g.minRate = g.maxRate / 4
		g.limiter = rate.NewLimiter(g.maxRate, burst)
	}
	return g
}

// Do waits for a rate slot and runs fn through the circuit breaker. It
// returns ErrCircuitOpen without calling fn while the circuit is open.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "resilience: wait for rate limit")
		}
	}

	err := fn(ctx)
	g.breaker.Record(err)
	g.adjust(err)
	return err
}

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Limit returns the current pace; rate.Inf when unlimited.
func (g *Guard) Limit() rate.Limit {
	if g.limiter == nil {
		return rate.Inf
	}
	return g.limiter.Limit()
}

func (g *Guard) adjust(err error) {
	if g.limiter == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.limiter.Limit()
	if err != nil && g.breaker.cfg.ShouldTrip(err) {
		next := max(cur/2, g.minRate)
		if next != cur {
			g.limiter.SetLimit(next)
			zap.L().Warn("resilience: provider throttled, slowing down",
				zap.Float64("requests_per_second", float64(next)),
			)
		}
		return
	}
	if err == nil && cur < g.maxRate {
		g.limiter.SetLimit(min(cur*1.2, g.maxRate))
	}
}
