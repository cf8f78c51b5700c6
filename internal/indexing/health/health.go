// Package health provides system health monitoring and status reporting.
package health

import "context"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusCritical SystemStatus = "critical"
)

// Check probes one dependency (database, redis, object storage).
type Check func(ctx context.Context) error

// ComponentHealth is the probe result for one dependency.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Monitor runs registered dependency checks on demand.
type Monitor struct {
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Register adds a named dependency check.
func (m *Monitor) Register(name string, check Check) {
	m.checks[name] = check
}

// CheckHealth probes every registered dependency.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentHealth {
	report := make(map[string]ComponentHealth, len(m.checks))
	for name, check := range m.checks {
		if err := check(ctx); err != nil {
			report[name] = ComponentHealth{Status: StatusCritical, Error: err.Error()}
		} else {
			report[name] = ComponentHealth{Status: StatusHealthy}
		}
	}
	return report
}
