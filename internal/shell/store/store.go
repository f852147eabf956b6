package store

import (
	"context"

	"github.com/artpar/nucleus/internal/core/domain"
)

// =============================================================================
// Registry Interface
// =============================================================================

// Registry is the source of truth for deployed services. It is the only
// shared mutable state of the control plane.
type Registry interface {
	// Upsert creates the record on the first deploy of name, otherwise
	// replaces its state and response and increments its version.
	// Concurrent upserts for one name are serialized.
	Upsert(ctx context.Context, name string, state domain.DeployState, response domain.ServiceResponse) (*domain.DeploymentRecord, error)

	// MarkFailed notes a failed deploy attempt on an existing record without
	// touching its response, state or version. Unknown names are ignored.
	MarkFailed(ctx context.Context, name, reason string) error

	// Get returns the record for name or a not found error.
	Get(ctx context.Context, name string) (*domain.DeploymentRecord, error)

	// List returns service names in order of first deploy.
	List(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}
