// Package monitoring provides pure functions for judging container health.
// This is part of the Functional Core - this package contains NO I/O.
package monitoring

import "fmt"

// =============================================================================
// Health Types
// =============================================================================

// Health is the verdict on a freshly started container.
type Health string

const (
	// HealthHealthy means the container is running and stable.
	HealthHealthy Health = "healthy"
	// HealthStarting means the container runs but its health check has not
	// passed yet.
	HealthStarting Health = "starting"
	// HealthUnhealthy means the container will not serve.
	HealthUnhealthy Health = "unhealthy"
)

// ContainerState is what the engine reports about a container.
type ContainerState struct {
	Status      string // created, running, paused, restarting, removing, exited, dead
	HealthCheck string // healthy, unhealthy, starting or "" when the image defines none
	Restarts    int
	ExitCode    int
}

// Verdict is a health judgement with a human-readable reason.
type Verdict struct {
	Health Health
	Reason string
}

// Serving reports whether the container can take traffic now or soon.
func (v Verdict) Serving() bool {
	return v.Health != HealthUnhealthy
}

// =============================================================================
// Startup Assessment (Pure Functions)
// =============================================================================

// AssessStartup judges a container at the end of its startup grace period.
// Any restart during the grace period counts as a crash loop.
func AssessStartup(s ContainerState) Verdict {
	switch s.Status {
	case "exited", "dead":
		return Verdict{HealthUnhealthy, fmt.Sprintf("exited with code %d", s.ExitCode)}
	case "restarting":
		return Verdict{HealthUnhealthy, fmt.Sprintf("crash looping (exit code %d)", s.ExitCode)}
	case "running":
	default:
		return Verdict{HealthUnhealthy, "container is " + s.Status}
	}

	if s.Restarts > 0 {
		return Verdict{HealthUnhealthy, fmt.Sprintf("restarted %d times during startup", s.Restarts)}
	}

	switch s.HealthCheck {
	case "unhealthy":
		return Verdict{HealthUnhealthy, "health check failing"}
	case "starting":
		return Verdict{HealthStarting, "health check starting"}
	}

	return Verdict{HealthHealthy, "running"}
}
