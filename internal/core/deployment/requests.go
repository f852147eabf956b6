package deployment

import (
	"github.com/artpar/nucleus/internal/core/artifact"
	"github.com/artpar/nucleus/internal/core/domain"
)

// =============================================================================
// Downstream Requests
// =============================================================================

// BuildRequest is handed to the builder for artifacts that need a build step.
type BuildRequest struct {
	Service   string
	AttemptID string
	Plan      artifact.Plan
}

// Tag returns the image tag the build should produce.
func (r BuildRequest) Tag() string {
	return ImageTag(r.Service, r.AttemptID)
}

// ProvisionRequest is handed to the scheduler to place one version of a
// service. Env holds resolved secret values and must not be persisted.
type ProvisionRequest struct {
	Service     string
	Version     int64
	AttemptID   string
	Image       string
	Credentials domain.RegistryCredentials
	// Pull is false for images produced by the builder, which only exist
	// locally.
	Pull    bool
	Env     map[string]string
	Private bool
	// AllowedServices are the services this one may reach by name.
	AllowedServices []string
}
