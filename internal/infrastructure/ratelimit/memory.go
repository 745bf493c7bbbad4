// Package ratelimit provides per-caller request limiters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Memory is a token bucket per key, held in a bounded LRU so idle callers
// are forgotten.
type Memory struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

func NewMemory(rps float64, burst, maxKeys int, idleTTL time.Duration) *Memory {
	if burst <= 0 {
		burst = 1
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Memory{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, idleTTL),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	lim, ok := m.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(m.rps, m.burst)
	}
	// Re-adding refreshes the idle expiry.
	m.limiters.Add(key, lim)
	m.mu.Unlock()
	return lim.Allow(), nil
}
