// Package artifact classifies a service's artifact into a provisioning plan.
//
// All functions are pure. The plan tells the orchestrator whether a build
// step is required and carries exactly the inputs the builder and scheduler
// need for the artifact's variant.
//
//	plan, err := artifact.Resolve(spec)
//	if plan.Build {
//	    dockerfile := artifact.Dockerfile(plan)
//	}
package artifact
