// Package main provides a mock API gateway for testing the client locally.
// It echoes /gateway/{service}/... requests as JSON, serves /health and the
// breaker-status endpoint, and can inject failures on demand.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// failureState controls injected failures: the next N /gateway/ requests
// return the configured status code.
type failureState struct {
	mu        sync.Mutex
	remaining int
	status    int
}

func (f *failureState) arm(count, status int) {
	f.mu.Lock()
	f.remaining = count
	f.status = status
	f.mu.Unlock()
}

func (f *failureState) take() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	flag.Parse()

	failures := &failureState{}

	// circuitStates holds the state reported by the breaker-status
	// endpoint, settable per circuit via /__circuit/{name}/{state}.
	var circuitMu sync.Mutex
	circuitStates := map[string]string{}

	// /__fail/{count}/{status} arms failure injection: the next {count}
	// gateway requests return {status}. Example: POST /__fail/3/503
	http.HandleFunc("/__fail/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/__fail/"), "/")
		if len(parts) != 2 {
			http.Error(w, "usage: /__fail/{count}/{status}", http.StatusBadRequest)
			return
		}
		count, err1 := strconv.Atoi(parts[0])
		status, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || status < 100 || status > 599 {
			http.Error(w, "usage: /__fail/{count}/{status}", http.StatusBadRequest)
			return
		}
		failures.arm(count, status)
		fmt.Fprintf(w, "next %d requests will return %d\n", count, status)
	})

	// /__circuit/{name}/{state} sets the reported breaker state.
	// Example: POST /__circuit/users-circuit/OPEN
	http.HandleFunc("/__circuit/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/__circuit/"), "/")
		if len(parts) != 2 {
			http.Error(w, "usage: /__circuit/{name}/{state}", http.StatusBadRequest)
			return
		}
		circuitMu.Lock()
		circuitStates[parts[0]] = parts[1]
		circuitMu.Unlock()
		fmt.Fprintf(w, "circuit %s now reports %s\n", parts[0], parts[1])
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	http.HandleFunc("/internal/circuit-breaker/status/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/internal/circuit-breaker/status/")
		circuitMu.Lock()
		state, ok := circuitStates[name]
		circuitMu.Unlock()
		if !ok {
			state = "CLOSED"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"state": state})
	})

	http.HandleFunc("/gateway/", func(w http.ResponseWriter, r *http.Request) {
		if status, armed := failures.take(); armed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"type":    "InjectedFailure",
					"message": http.StatusText(status),
				},
			})
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/gateway/")
		service, endpoint, _ := strings.Cut(rest, "/")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"target_service": service,
			"endpoint":       "/" + endpoint,
			"method":         r.Method,
			"query":          r.URL.RawQuery,
			"caller":         r.Header.Get("X-Service-Name"),
			"request_id":     r.Header.Get("X-Request-ID"),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock gateway listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
