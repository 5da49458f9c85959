// Package admin provides an ops HTTP surface for the gateway client:
// circuit breaker inspection and reset, metrics, and cache management.
// All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/gateway-client/client"
)

// Handler provides the admin API endpoints over a running Client.
type Handler struct {
	client      *client.Client
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates an admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(c *client.Client, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: c, allowedNets: nets, logger: logger}
}

// RegisterRoutes adds the admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/circuits", h.guard(http.MethodGet, h.circuitsHandler))
	mux.HandleFunc("/admin/circuits/reset", h.guard(http.MethodPost, h.resetHandler))
	mux.HandleFunc("/admin/metrics", h.guard(http.MethodGet, h.metricsHandler))
	mux.HandleFunc("/admin/cache/stats", h.guard(http.MethodGet, h.cacheStatsHandler))
	mux.HandleFunc("/admin/cache/clear", h.guard(http.MethodPost, h.cacheClearHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// circuitsHandler returns a snapshot of every breaker created so far.
func (h *Handler) circuitsHandler(w http.ResponseWriter, r *http.Request) {
	snaps := h.client.CircuitSnapshots()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"circuits": snaps,
		"total":    len(snaps),
	})
}

// resetHandler forces the breaker for ?target= back to closed.
func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "target query parameter is required",
		})
		return
	}

	if !h.client.ResetCircuit(target) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no circuit breaker for target " + target,
		})
		return
	}

	h.logger.Info("circuit breaker reset via admin", "target", target)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
		"target": target,
	})
}

// metricsHandler returns the in-process counters and latency percentiles.
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.Metrics().Snapshot())
}

// cacheStatsHandler returns response cache hit/miss counters.
func (h *Handler) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.CacheStats())
}

// cacheClearHandler clears cached responses for ?target=, or everything
// when no target is given.
func (h *Handler) cacheClearHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")

	if err := h.client.ClearCache(r.Context(), target); err != nil {
		h.logger.Error("cache clear failed", "target", target, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	scope := target
	if scope == "" {
		scope = "all"
	}
	h.logger.Info("cache cleared via admin", "scope", scope)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cleared",
		"scope":  scope,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
