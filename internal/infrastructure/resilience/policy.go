package resilience

import (
	"log/slog"
	"math"
	"time"
)

// Config tunes retries and circuit breaking around analysis engines and
// scheduler publishes. Zero values take the DefaultConfig value.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	Logger *slog.Logger

	// OnStateChange is called with the breaker name and its new state.
	OnStateChange func(operation, state string)
}

// DefaultConfig suits model backends, where one call can take seconds and a
// loading model answers 503 for a while.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 250 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2,

		BreakerEnabled:          true,
		BreakerMinRequests:      8,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()

	c.RetryMaxAttempts = orDefault(c.RetryMaxAttempts, def.RetryMaxAttempts)
	c.RetryInitialBackoff = orDefault(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(orDefault(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	c.BreakerMinRequests = orDefault(c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	c.BreakerOpenTimeout = orDefault(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = orDefault(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// backoff is the wait after the given failed attempt (1-based).
func (c Config) backoff(attempt int) time.Duration {
	wait := float64(c.RetryInitialBackoff) * math.Pow(c.RetryMultiplier, float64(attempt-1))
	if wait >= float64(c.RetryMaxBackoff) {
		return c.RetryMaxBackoff
	}
	return time.Duration(wait)
}

func orDefault[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
