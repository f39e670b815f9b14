package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint.
// This is a simple liveness check that returns 200 if the process is alive.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint.
// Ready means both stores answer: the authoritative database and the
// fast store backing the queue, presence, and the capacity counter.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.store != nil {
		// A cheap aggregate query doubles as the connectivity probe
		if _, err := s.store.CountJobsByState(); err != nil {
			checks["database"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "Database not accessible"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not initialized"
		ready = false
		message = "Store not initialized"
	}

	if s.registry != nil {
		if _, err := s.registry.Count(r.Context()); err != nil {
			checks["redis"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Fast store not accessible"
			}
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not initialized"
		ready = false
		if message == "" {
			message = "Registry not initialized"
		}
	}

	status := "ready"
	statusCode := http.StatusOK

	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
