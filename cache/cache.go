// Package cache memoizes successful GET responses and serves them as a
// degraded-mode fallback when a target service is failing. Keys are a
// deterministic fingerprint of the request, order-independent in the
// query parameters. The backing store is pluggable; a nil store degrades
// to all-miss.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned by a Store when a key has no value.
var ErrNotFound = errors.New("cache: key not found")

// Store is the key/value backend the cache coordinates over. TTL
// enforcement is the store's responsibility.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	FlushAll(ctx context.Context) error
	Close() error
}

// keyPayload is the canonical serialization hashed into the cache key.
// Field order is alphabetical and map keys are sorted by encoding/json,
// so identical logical requests always produce identical fingerprints.
type keyPayload struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Params   map[string]string `json:"params"`
	Service  string            `json:"service"`
}

// Key derives the cache key for a request:
// service:{service}:endpoint:{endpoint}:{md5 of the canonical payload}.
func Key(service, endpoint, method string, params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	canonical, _ := json.Marshal(keyPayload{
		Endpoint: endpoint,
		Method:   method,
		Params:   params,
		Service:  service,
	})
	sum := md5.Sum(canonical)
	return fmt.Sprintf("service:%s:endpoint:%s:%s", service, endpoint, hex.EncodeToString(sum[:]))
}

// servicePrefix is the key namespace for one target service, used by Clear.
func servicePrefix(service string) string {
	return "service:" + service + ":"
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Enabled bool  `json:"enabled"`
}

// Cache is the coordination layer over a Store. All failure modes degrade
// silently: a broken store means misses, a failed write is logged and
// dropped, corrupted stored data is a miss.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache writing entries with the given TTL. A nil store
// produces a disabled cache where every lookup misses.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Enabled reports whether a backing store is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// Get returns the cached response body for the request, or false on miss.
// Store errors and undecodable data are both treated as misses.
func (c *Cache) Get(ctx context.Context, service, endpoint, method string, params map[string]string) (json.RawMessage, bool) {
	if !c.Enabled() {
		return nil, false
	}

	key := Key(service, endpoint, method, params)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Debug("cache read failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if !json.Valid(data) {
		// Corrupted entry: treat as a miss rather than an error.
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return json.RawMessage(data), true
}

// Set stores a response body under the request's key with the configured
// TTL. Failures never propagate to the caller.
func (c *Cache) Set(ctx context.Context, service, endpoint, method string, params map[string]string, body json.RawMessage) {
	if !c.Enabled() || len(body) == 0 {
		return
	}

	key := Key(service, endpoint, method, params)
	if err := c.store.Set(ctx, key, body, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Clear removes cached entries. With a service name it deletes only that
// service's key namespace; with an empty name it flushes everything.
func (c *Cache) Clear(ctx context.Context, service string) error {
	if !c.Enabled() {
		return nil
	}
	if service != "" {
		return c.store.DeleteByPrefix(ctx, servicePrefix(service))
	}
	return c.store.FlushAll(ctx)
}

// Stats returns hit/miss counters for this cache instance.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Enabled: c.Enabled(),
	}
}

// Close releases the backing store, if any.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}
