// Package client is the entry point of the gateway client library. A
// Client routes outbound service-to-service calls through the central API
// gateway, wrapping each call in a per-target circuit breaker, a
// backoff-based retry policy, and a response cache with stale fallback.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dskow/gateway-client/cache"
	"github.com/dskow/gateway-client/circuitbreaker"
	"github.com/dskow/gateway-client/config"
	"github.com/dskow/gateway-client/health"
	"github.com/dskow/gateway-client/metrics"
	"github.com/dskow/gateway-client/ratelimit"
	"github.com/dskow/gateway-client/retry"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client: closed")

// Client coordinates outbound calls through the gateway. It is safe for
// concurrent use; breakers are created lazily, one per target service.
type Client struct {
	cfg    atomic.Pointer[config.Config]
	logger *slog.Logger
	http   *http.Client
	reg    *metrics.Registry
	cache  *cache.Cache
	limit  *ratelimit.Limiter
	mon    *health.Monitor

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
	inflight map[uint64]context.CancelFunc
	nextID   uint64
	closed   bool
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	store      cache.Store
	reg        *metrics.Registry
	monitor    bool
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used for gateway calls. Timeouts
// are applied per call via context, so the client's own Timeout should
// normally stay zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithCacheStore supplies the cache backend directly, bypassing the
// configured redis_url. Useful for tests.
func WithCacheStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// WithMetrics uses an existing metrics registry instead of creating one.
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *options) { o.reg = reg }
}

// WithoutHealthMonitor disables the background gateway liveness probe.
// The gateway is then always treated as available.
func WithoutHealthMonitor() Option {
	return func(o *options) { o.monitor = false }
}

// New creates a Client from a validated configuration. The gateway
// liveness monitor starts immediately; the response cache connects to the
// configured Redis instance, degrading to disabled if unreachable.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client: nil config")
	}

	o := options{monitor: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	if o.reg == nil {
		o.reg = metrics.New(cfg.Service.Name)
	}

	store := o.store
	if store == nil && cfg.Cache.IsEnabled() && cfg.Cache.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			// A dead cache store must never block the call path.
			o.logger.Warn("cache store unreachable, caching disabled",
				"url", cfg.Cache.RedisURL, "error", err)
		} else {
			store = rs
		}
	}
	if !cfg.Cache.IsEnabled() {
		store = nil
	}

	c := &Client{
		logger:   o.logger,
		http:     o.httpClient,
		reg:      o.reg,
		cache:    cache.New(store, cfg.Cache.TTL, o.logger),
		limit:    ratelimit.New(cfg.RateLimit, cfg.RateOverrides, o.logger),
		breakers: make(map[string]*circuitbreaker.Breaker),
		inflight: make(map[uint64]context.CancelFunc),
	}
	c.cfg.Store(cfg)

	if o.monitor {
		c.mon = health.New(cfg.Gateway.URL, cfg.Gateway.HealthInterval, o.httpClient, o.logger)
		c.mon.Start()
	}

	c.logger.Info("gateway client initialized",
		"service", cfg.Service.Name,
		"gateway", cfg.Gateway.URL,
		"cache_enabled", c.cache.Enabled(),
	)

	return c, nil
}

// UpdateConfig applies a hot-reloaded configuration. Existing breakers
// keep their thresholds; rate limits and timeouts take effect on the next
// call. Intended as a config.Reloader OnReload callback.
func (c *Client) UpdateConfig(cfg *config.Config) {
	c.cfg.Store(cfg)
	c.limit.UpdateConfig(cfg.RateLimit, cfg.RateOverrides)
	c.logger.Info("client configuration updated")
}

func (c *Client) config() *config.Config {
	return c.cfg.Load()
}

// retryPolicy derives the retry engine's policy from the current config.
// The strategy string was validated at load time.
func (c *Client) retryPolicy() retry.Policy {
	cfg := c.config().Retry
	strategy, _ := retry.ParseStrategy(cfg.BackoffStrategy)
	return retry.Policy{
		MaxAttempts:  cfg.MaxAttempts,
		Strategy:     strategy,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	}
}

// breakerFor returns the breaker for a target service, creating it on
// first use with the target's configured thresholds and gateway
// reconciliation wired in.
func (c *Client) breakerFor(target string) *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[target]; ok {
		return b
	}

	cfg := c.config()
	bc := cfg.BreakerFor(target)
	b := circuitbreaker.New(target,
		circuitbreaker.Config{
			FailureThreshold: bc.FailureThreshold,
			RecoveryTimeout:  bc.RecoveryTimeout,
			SuccessThreshold: bc.SuccessThreshold,
		},
		circuitbreaker.WithLogger(c.logger),
		circuitbreaker.WithMetrics(c.reg),
		circuitbreaker.WithRemoteStatus(c.fetchRemoteState, cfg.Gateway.StatusSyncInterval),
	)
	c.breakers[target] = b
	return b
}

// trackRequest registers an in-flight call so Close can cancel it.
func (c *Client) trackRequest(ctx context.Context) (context.Context, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.inflight[id] = cancel
	c.mu.Unlock()

	done := func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		cancel()
	}
	return ctx, done, nil
}

// Close cancels all in-flight calls, stops the liveness monitor, and
// releases the cache store. The client is unusable afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := make([]context.CancelFunc, 0, len(c.inflight))
	for _, cancel := range c.inflight {
		cancels = append(cancels, cancel)
	}
	c.inflight = make(map[uint64]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if c.mon != nil {
		c.mon.Stop()
	}

	err := c.cache.Close()
	c.logger.Info("gateway client closed", "cancelled_inflight", len(cancels))
	return err
}

// CircuitState returns the breaker state for a target service, or false
// if no breaker exists yet for it.
func (c *Client) CircuitState(target string) (circuitbreaker.State, bool) {
	c.mu.Lock()
	b, ok := c.breakers[target]
	c.mu.Unlock()
	if !ok {
		return circuitbreaker.StateClosed, false
	}
	return b.State(), true
}

// ResetCircuit forces a target's breaker back to closed. Returns false if
// no breaker exists for the target.
func (c *Client) ResetCircuit(target string) bool {
	c.mu.Lock()
	b, ok := c.breakers[target]
	c.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	c.logger.Info("circuit breaker reset", "target", target)
	return true
}

// CircuitSnapshots returns a point-in-time view of every breaker created
// so far.
func (c *Client) CircuitSnapshots() []circuitbreaker.Snapshot {
	c.mu.Lock()
	snaps := make([]circuitbreaker.Snapshot, 0, len(c.breakers))
	for _, b := range c.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	c.mu.Unlock()
	return snaps
}

// ClearCache removes cached responses for one target service, or all
// entries when target is empty.
func (c *Client) ClearCache(ctx context.Context, target string) error {
	return c.cache.Clear(ctx, target)
}

// CacheStats returns hit/miss counters for the response cache.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// Metrics returns the client's metrics registry, for exposing via its
// Handler or reading a Snapshot.
func (c *Client) Metrics() *metrics.Registry {
	return c.reg
}

// GatewayAvailable reports the last observed gateway liveness state.
func (c *Client) GatewayAvailable() bool {
	if c.mon == nil {
		return true
	}
	return c.mon.Available()
}
