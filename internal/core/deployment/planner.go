package deployment

import (
	"fmt"

	"github.com/artpar/nucleus/internal/core/domain"
)

// =============================================================================
// Deploy State Transitions
// =============================================================================

// transitions lists the allowed successor states of every non-terminal state.
// Failed is reachable from all of them and is added by CanTransition.
var transitions = map[domain.DeployState][]domain.DeployState{
	domain.StateRequested:    {domain.StateValidating},
	domain.StateValidating:   {domain.StateBuilding, domain.StateProvisioning},
	domain.StateBuilding:     {domain.StateProvisioning},
	domain.StateProvisioning: {domain.StateRunning},
}

// CanTransition reports whether a deploy attempt may move from one state to
// another.
//
// Valid transitions:
//   - requested → validating
//   - validating → building (source artifacts)
//   - validating → provisioning (image artifacts)
//   - building → provisioning
//   - provisioning → running
//   - any non-terminal state → failed
//
// Running and failed are terminal for the attempt.
func CanTransition(from, to domain.DeployState) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.StateFailed {
		_, known := transitions[from]
		return known
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns an error when the move from one state to another is
// not allowed.
func Transition(from, to domain.DeployState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid deploy transition %s → %s", from, to)
	}
	return nil
}

// PathFor returns the sequence of states a successful deploy passes through
// after validating. A build step is only included when the plan needs one.
//
// Example:
//
//	PathFor(true)  // [building provisioning running]
//	PathFor(false) // [provisioning running]
func PathFor(build bool) []domain.DeployState {
	if build {
		return []domain.DeployState{domain.StateBuilding, domain.StateProvisioning, domain.StateRunning}
	}
	return []domain.DeployState{domain.StateProvisioning, domain.StateRunning}
}
