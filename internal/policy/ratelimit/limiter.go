// Package ratelimit paces dispatches to each remote engine with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/metrics"
)

// Limiter manages per-engine rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[engine.Kind]*rate.Limiter
	overrides    map[engine.Kind]EngineLimit
	defaultRate  rate.Limit
	defaultBurst int
}

// EngineLimit overrides the default bucket for one engine.
type EngineLimit struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration. A non-positive rate disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	PerEngine    map[engine.Kind]EngineLimit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	overrides := make(map[engine.Kind]EngineLimit, len(cfg.PerEngine))
	for kind, lim := range cfg.PerEngine {
		overrides[kind] = lim
	}
	r, burst := bucket(cfg.DefaultRPS, cfg.DefaultBurst)
	return &Limiter{
		limiters:     make(map[engine.Kind]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

func bucket(rps float64, burst int) (rate.Limit, int) {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}

// Wait blocks until a token is available for kind, respecting the context.
func (l *Limiter) Wait(ctx context.Context, kind engine.Kind) error {
	limiter := l.limiterFor(kind)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(kind), duration)
	}
	return nil
}

func (l *Limiter) limiterFor(kind engine.Kind) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[kind]
	if exists {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if override, ok := l.overrides[kind]; ok {
		r, burst = bucket(override.RPS, override.Burst)
	}
	limiter = rate.NewLimiter(r, burst)
	l.limiters[kind] = limiter
	return limiter
}
