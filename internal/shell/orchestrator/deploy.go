package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/nucleus/internal/core/artifact"
	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/core/domain"
)

const opDeploy = "Deploy"

// =============================================================================
// Deploy
// =============================================================================

// Deploy drives spec to a running service and returns its endpoints.
//
// Deploys of one service never interleave: depending on the conflict policy
// a second deploy waits for the first or fails with a conflict error. Once
// validation has passed the deploy runs to completion even if ctx is
// cancelled. A failed deploy leaves the registry's running record intact.
func (o *Orchestrator) Deploy(ctx context.Context, spec domain.ServiceSpec) (domain.ServiceResponse, error) {
	if err := domain.ValidateServiceName(spec.Name); err != nil {
		return domain.ServiceResponse{}, err
	}

	unlock, err := o.acquire(ctx, spec.Name)
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	defer unlock()

	a := o.newAttempt(spec.Name)
	a.logger.Info("deploy requested")

	resp, err := o.run(ctx, a, spec)
	if err != nil {
		o.fail(a, err)
		return domain.ServiceResponse{}, err
	}
	return resp, nil
}

func (o *Orchestrator) acquire(ctx context.Context, name string) (func(), error) {
	if o.config.ConflictPolicy == ConflictReject {
		unlock, ok := o.locks.TryLock(name)
		if !ok {
			return nil, domain.NewError(domain.KindConflict, opDeploy,
				fmt.Sprintf("a deploy of %q is already in progress", name), nil)
		}
		return unlock, nil
	}

	unlock, err := o.locks.Lock(ctx, name)
	if err != nil {
		return nil, domain.NewError(domain.KindConflict, opDeploy,
			fmt.Sprintf("gave up waiting for the in-flight deploy of %q", name), err)
	}
	return unlock, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, spec domain.ServiceSpec) (domain.ServiceResponse, error) {
	// Validating: shape, artifact plan and secrets, before any build or
	// provisioning work.
	if err := a.advance(domain.StateValidating); err != nil {
		return domain.ServiceResponse{}, err
	}
	if err := domain.ValidateSpec(spec); err != nil {
		return domain.ServiceResponse{}, err
	}
	plan, err := artifact.Resolve(spec)
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	resolved, err := o.secrets.Resolve(ctx, spec.Secrets)
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	env := deployment.EffectiveEnv(spec.EnvVars, resolved)
	clear(resolved)
	defer clear(env)
	a.logger.Info("spec validated",
		"path", deployment.PathFor(plan.Build),
		"env_keys", deployment.SortedKeys(env),
	)

	// Past validating the deploy is not cancellable.
	ctx = context.WithoutCancel(ctx)

	version, err := o.nextVersion(ctx, spec.Name)
	if err != nil {
		return domain.ServiceResponse{}, err
	}

	image := plan.Image
	if plan.Build {
		if err := a.advance(domain.StateBuilding); err != nil {
			return domain.ServiceResponse{}, err
		}
		image, err = o.builder.Build(ctx, deployment.BuildRequest{
			Service:   spec.Name,
			AttemptID: a.id,
			Plan:      plan,
		})
		if err != nil {
			return domain.ServiceResponse{}, domain.NewError(domain.KindBuild, opDeploy, "build failed", err)
		}
	}

	if err := a.advance(domain.StateProvisioning); err != nil {
		return domain.ServiceResponse{}, err
	}
	resp, err := o.provision(ctx, a, deployment.ProvisionRequest{
		Service:     spec.Name,
		Version:     version,
		AttemptID:   a.id,
		Image:       image,
		Credentials: plan.Credentials,
		Pull:        !plan.Build,
		Env:         env,
		Private:     spec.IsPrivateService,

		AllowedServices: spec.AllowedServices,
	})
	if err != nil {
		return domain.ServiceResponse{}, err
	}

	if err := a.advance(domain.StateRunning); err != nil {
		return domain.ServiceResponse{}, err
	}
	rec, err := o.registry.Upsert(ctx, spec.Name, domain.StateRunning, resp)
	if err != nil {
		return domain.ServiceResponse{}, domain.NewError(domain.KindProvisioning, opDeploy, "record deployment", err)
	}

	a.logger.Info("deploy succeeded",
		"version", rec.Version,
		"url", rec.Response.URL,
		"duration", time.Since(a.started),
	)
	return rec.Response, nil
}

// provision calls the scheduler, retrying transient failures with bounded
// exponential backoff.
func (o *Orchestrator) provision(ctx context.Context, a *attempt, req deployment.ProvisionRequest) (domain.ServiceResponse, error) {
	b := o.config.Backoff

	for n := 1; ; n++ {
		resp, err := o.scheduler.Provision(ctx, req)
		if err == nil {
			return resp, nil
		}

		if !domain.IsTransient(err) {
			return domain.ServiceResponse{}, domain.NewError(domain.KindProvisioning, opDeploy, "provisioning failed", err)
		}
		if n >= b.MaxAttempts {
			return domain.ServiceResponse{}, domain.NewError(domain.KindProvisioning, opDeploy,
				fmt.Sprintf("provisioning failed after %d attempts", n), err)
		}

		delay := b.Delay(n)
		a.logger.Warn("provisioning failed, retrying", "try", n, "delay", delay, "error", err)
		if err := o.sleep(ctx, delay); err != nil {
			return domain.ServiceResponse{}, domain.NewError(domain.KindProvisioning, opDeploy, "provisioning interrupted", err)
		}
	}
}

func (o *Orchestrator) nextVersion(ctx context.Context, name string) (int64, error) {
	rec, err := o.registry.Get(ctx, name)
	switch {
	case err == nil:
		return rec.Version + 1, nil
	case domain.IsKind(err, domain.KindNotFound):
		return 1, nil
	default:
		return 0, domain.NewError(domain.KindProvisioning, opDeploy, "read registry", err)
	}
}

func (o *Orchestrator) fail(a *attempt, err error) {
	if a.state == domain.StateFailed {
		return
	}
	a.state = domain.StateFailed
	a.logger.Warn("deploy failed",
		"kind", domain.KindOf(err),
		"error", err,
		"duration", time.Since(a.started),
	)

	// A spec that never validated has nothing to record against the service.
	if domain.KindOf(err) == domain.KindValidation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.registry.MarkFailed(ctx, a.name, err.Error()); err != nil {
		a.logger.Warn("failed to record deploy failure", "error", err)
	}
}

// =============================================================================
// Attempt
// =============================================================================

// attempt tracks one pass through the deploy state machine.
type attempt struct {
	id      string
	name    string
	state   domain.DeployState
	started time.Time
	logger  *slog.Logger
}

func (o *Orchestrator) newAttempt(name string) *attempt {
	id := o.newID()
	return &attempt{
		id:      id,
		name:    name,
		state:   domain.StateRequested,
		started: o.now(),
		logger:  o.logger.With("service", name, "attempt_id", id),
	}
}

func (a *attempt) advance(to domain.DeployState) error {
	if err := deployment.Transition(a.state, to); err != nil {
		return domain.NewError(domain.KindProvisioning, opDeploy, "internal state error", err)
	}
	a.logger.Debug("deploy state", "from", a.state, "to", to)
	a.state = to
	return nil
}

func newAttemptID() string {
	return uuid.NewString()
}
