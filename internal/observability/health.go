package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-dependency readiness.
// The service is ready once started and every registered dependency is up.
type HealthChecker struct {
	mu        sync.RWMutex
	started   bool
	deps      map[string]bool
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		deps:      make(map[string]bool),
		startTime: time.Now(),
	}
}

// SetReady marks startup (recovery, replay, listeners) as complete or not
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	h.started = ready
	h.mu.Unlock()
}

// SetDependency records the state of a named dependency (postgres, nats, redis)
func (h *HealthChecker) SetDependency(name string, up bool) {
	h.mu.Lock()
	h.deps[name] = up
	h.mu.Unlock()
}

// IsReady returns whether the service can take traffic
func (h *HealthChecker) IsReady() bool {
	ready, _ := h.status()
	return ready
}

func (h *HealthChecker) status() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var down []string
	for name, up := range h.deps {
		if !up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return h.started && len(down) == 0, down
}

// LivenessHandler returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the failing dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ready, down := h.status()
	if ready {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "not_ready",
		"dependencies": down,
	})
}
