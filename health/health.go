// Package health tracks gateway availability with a periodic background
// probe so callers can fail fast instead of burning a full timeout when
// the gateway itself is down.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// Monitor polls the gateway's /health endpoint at a fixed interval and
// caches the result. Until the first probe completes the gateway is
// assumed available, so a slow start never blocks traffic.
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	logger    *slog.Logger

	mu        sync.RWMutex
	available bool
	lastCheck time.Time
	lastErr   error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Monitor for the gateway at baseURL, probing every
// interval once Start is called.
func New(baseURL string, interval time.Duration, client *http.Client, logger *slog.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		healthURL: strings.TrimRight(baseURL, "/") + "/health",
		interval:  interval,
		client:    client,
		logger:    logger,
		available: true,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background probe loop. The first probe runs
// immediately.
func (m *Monitor) Start() {
	go func() {
		m.probe(context.Background())

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probe(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the probe loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Available reports the last observed gateway state.
func (m *Monitor) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Status returns the last observed state, when it was observed, and the
// probe error if the gateway was unavailable.
func (m *Monitor) Status() (available bool, lastCheck time.Time, lastErr error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available, m.lastCheck, m.lastErr
}

// CheckNow forces an immediate probe and returns the result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.probe(ctx)
	return m.Available()
}

func (m *Monitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ok, err := m.check(ctx)

	m.mu.Lock()
	was := m.available
	m.available = ok
	m.lastCheck = time.Now()
	m.lastErr = err
	m.mu.Unlock()

	if was != ok {
		if ok {
			m.logger.Info("gateway is available again", "url", m.healthURL)
		} else {
			m.logger.Warn("gateway is unavailable", "url", m.healthURL, "error", err)
		}
	}
}

func (m *Monitor) check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return true, nil
}
