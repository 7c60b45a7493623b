package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
)

// Health serves GET /healthz. Services add fields to the report with Set.
type Health struct {
	service      string
	shuttingDown atomic.Bool

	mu     sync.RWMutex
	fields map[string]func() any
}

func newHealth(service string) *Health {
	return &Health{service: service, fields: make(map[string]func() any)}
}

// Set adds a field to the health report, computed on every request.
// "status" and "service" are reserved.
func (h *Health) Set(name string, value func() any) {
	if name == "status" || name == "service" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fields[name] = value
}

// ShuttingDown reports whether shutdown has begun.
func (h *Health) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

func (h *Health) markShuttingDown() {
	h.shuttingDown.Store(true)
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := map[string]any{"service": h.service}

	h.mu.RLock()
	for name, value := range h.fields {
		report[name] = value()
	}
	h.mu.RUnlock()

	status := http.StatusOK
	report["status"] = "healthy"
	if h.shuttingDown.Load() {
		status = http.StatusServiceUnavailable
		report["status"] = "shutting_down"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
