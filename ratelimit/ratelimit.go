// Package ratelimit provides per-target-service token bucket limiting for
// outbound calls, so one chatty caller cannot flood the gateway.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/dskow/gateway-client/config"
)

// Limiter tracks one token bucket per target service. A zero global
// RequestsPerSecond with no overrides means limiting is disabled and
// Wait returns immediately.
type Limiter struct {
	mu        sync.RWMutex
	targets   map[targetKey]*rate.Limiter
	global    config.RateLimitConfig
	overrides map[string]config.RateLimitConfig
	logger    *slog.Logger
}

// targetKey encodes the limit alongside the target so a hot-reloaded
// override gets a fresh bucket instead of inheriting the old one's tokens.
type targetKey struct {
	target string
	rps    rate.Limit
	burst  int
}

// New creates a Limiter with global settings and per-target overrides.
func New(global config.RateLimitConfig, overrides map[string]config.RateLimitConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		targets:   make(map[targetKey]*rate.Limiter),
		global:    global,
		overrides: overrides,
		logger:    logger,
	}
}

// limitFor returns the effective settings for a target: the override when
// present, else the global config.
func (l *Limiter) limitFor(target string) config.RateLimitConfig {
	if rl, ok := l.overrides[target]; ok {
		return rl
	}
	return l.global
}

// Wait blocks until the target's bucket has a token or the context is
// done. Targets without an effective limit pass through immediately.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	l.mu.RLock()
	cfg := l.limitFor(target)
	if cfg.RequestsPerSecond <= 0 {
		l.mu.RUnlock()
		return nil
	}
	key := targetKey{target: target, rps: rate.Limit(cfg.RequestsPerSecond), burst: cfg.BurstSize}
	lim, ok := l.targets[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		// Double-check after acquiring the write lock.
		if lim, ok = l.targets[key]; !ok {
			lim = rate.NewLimiter(key.rps, key.burst)
			l.targets[key] = lim
		}
		l.mu.Unlock()
	}

	return lim.Wait(ctx)
}

// Allow reports whether a call to the target may proceed right now
// without blocking.
func (l *Limiter) Allow(target string) bool {
	l.mu.RLock()
	cfg := l.limitFor(target)
	l.mu.RUnlock()
	if cfg.RequestsPerSecond <= 0 {
		return true
	}

	key := targetKey{target: target, rps: rate.Limit(cfg.RequestsPerSecond), burst: cfg.BurstSize}

	l.mu.Lock()
	lim, ok := l.targets[key]
	if !ok {
		lim = rate.NewLimiter(key.rps, key.burst)
		l.targets[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// UpdateConfig hot-reloads the global settings and overrides. Existing
// buckets are cleared so new limits take effect on the next call.
func (l *Limiter) UpdateConfig(global config.RateLimitConfig, overrides map[string]config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = global
	l.overrides = overrides
	l.targets = make(map[targetKey]*rate.Limiter)

	l.logger.Info("rate limit config updated",
		"global_rps", global.RequestsPerSecond,
		"overrides", len(overrides),
	)
}
