package domain

import "time"

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// DependencyHealth is the outcome of probing a single backing service.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for readiness endpoints.
type HealthReport struct {
	Status       string
	Dependencies map[string]DependencyHealth
	GeneratedAt  time.Time
}
