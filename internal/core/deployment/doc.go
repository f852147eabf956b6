// Package deployment provides pure functions for the deploy state machine.
//
// This package contains the functional core the orchestrator drives: state
// transition rules, effective environment computation, provisioning backoff
// schedules and resource naming. All functions are pure (no I/O, no side
// effects).
//
// # Functions
//
//   - States: Validate and plan transitions (CanTransition, PathFor)
//   - Environment: Merge user env and resolved secrets (EffectiveEnv)
//   - Backoff: Compute retry delays for transient provisioning failures
//   - Naming: Generate consistent resource names (ContainerName, ImageTag)
//
// # Usage
//
// The orchestrator (internal/shell/orchestrator) uses these pure functions
// to decide what to do next, then performs the I/O through its adapters.
//
//	path := deployment.PathFor(plan.Build)
//	env := deployment.EffectiveEnv(spec.EnvVars, resolved)
//	delay := backoff.Delay(attempt)
package deployment
