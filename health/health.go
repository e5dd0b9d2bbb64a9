// Package health provides health status reporting for the mapper service.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the whole service
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy builds a healthy status for a component.
func Healthy(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy status with a reason.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a degraded status with a reason.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Checker reports the current health of one component.
type Checker interface {
	Health() Status
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func() Status

// Health implements Checker.
func (f CheckerFunc) Health() Status {
	return f()
}

// Monitor aggregates component health checks into one service status.
type Monitor struct {
	service string

	mu       sync.RWMutex
	checkers []Checker
}

// NewMonitor creates a monitor for the named service.
func NewMonitor(service string) *Monitor {
	return &Monitor{service: service}
}

// RegisterChecker adds a component health check.
func (m *Monitor) RegisterChecker(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check returns the aggregated service status: unhealthy if any component is
// unhealthy, degraded if any component is degraded.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	overall := Healthy(m.service)
	for _, checker := range checkers {
		sub := checker.Health()
		overall.SubStatuses = append(overall.SubStatuses, sub)
		switch sub.Status {
		case "unhealthy":
			overall.Healthy = false
			overall.Status = "unhealthy"
		case "degraded":
			if overall.Status == "healthy" {
				overall.Status = "degraded"
			}
		}
	}
	return overall
}

// Handler returns an HTTP handler serving the aggregated status as JSON.
// Unhealthy responses carry 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check()

		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
		}
	})
}
