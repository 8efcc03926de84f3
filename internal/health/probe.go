// Package health schedules component probes and drives remediation when
// they report trouble.
package health

import "context"

// Status is a probe or aggregate health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether a is a worse status than b.
func worse(a, b Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[a] > rank[b]
}

// ProbeResult is one probe's verdict.
type ProbeResult struct {
	Name    string             `json:"name"`
	Status  Status             `json:"status"`
	Message string             `json:"message"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Prober is a single component check.
type Prober interface {
	Name() string
	Probe(ctx context.Context) ProbeResult
}
