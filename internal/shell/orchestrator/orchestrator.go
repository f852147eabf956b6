// Package orchestrator drives service deploys through their state machine
// and serves service logs.
// This is part of the Imperative Shell - it sequences the pure planning
// functions with the builder, scheduler, secrets backends and registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/shell/store"
)

// =============================================================================
// Collaborators
// =============================================================================

// SecretsResolver turns a secrets reference into plaintext values.
type SecretsResolver interface {
	Resolve(ctx context.Context, ref *domain.SecretsRef) (map[string]string, error)
}

// Builder builds an image from a source plan and returns its reference.
type Builder interface {
	Build(ctx context.Context, req deployment.BuildRequest) (string, error)
}

// Scheduler places a service version and returns its endpoints. Errors
// wrapping domain.ErrTransient are retried.
type Scheduler interface {
	Provision(ctx context.Context, req deployment.ProvisionRequest) (domain.ServiceResponse, error)
}

// LogSource reads service output.
type LogSource interface {
	// Fetch returns lines emitted since the given time, oldest first.
	Fetch(ctx context.Context, service string, since time.Time) ([]string, error)

	// Tail opens a text stream of the last lines, continuing with live
	// output when follow is set. Close releases the upstream subscription.
	Tail(ctx context.Context, service string, lines int, follow bool) (io.ReadCloser, error)
}

// =============================================================================
// Configuration
// =============================================================================

// ConflictPolicy decides what a deploy does when another deploy of the same
// service is in flight.
type ConflictPolicy string

const (
	// ConflictQueue waits for the in-flight deploy to finish.
	ConflictQueue ConflictPolicy = "queue"
	// ConflictReject fails immediately with a conflict error.
	ConflictReject ConflictPolicy = "reject"
)

// ParseConflictPolicy validates a configured policy name.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case ConflictQueue, ConflictReject:
		return p, nil
	case "":
		return ConflictQueue, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q (want %q or %q)", s, ConflictQueue, ConflictReject)
}

// Config holds orchestrator policy.
type Config struct {
	Backoff        deployment.Backoff
	ConflictPolicy ConflictPolicy

	// TailLines is how many buffered lines a tail starts with.
	TailLines int
}

// Deps are the orchestrator's collaborators. Logger may be nil.
type Deps struct {
	Registry  store.Registry
	Secrets   SecretsResolver
	Builder   Builder
	Scheduler Scheduler
	Logs      LogSource
	Logger    *slog.Logger
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator implements deploy, service queries and log access.
type Orchestrator struct {
	config    Config
	registry  store.Registry
	secrets   SecretsResolver
	builder   Builder
	scheduler Scheduler
	logs      LogSource
	locks     *store.NameLocks
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New creates an orchestrator.
func New(config Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Secrets == nil:
		return nil, errors.New("orchestrator: secrets resolver is required")
	case deps.Builder == nil:
		return nil, errors.New("orchestrator: builder is required")
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	case deps.Logs == nil:
		return nil, errors.New("orchestrator: log source is required")
	}

	policy, err := ParseConflictPolicy(string(config.ConflictPolicy))
	if err != nil {
		return nil, err
	}
	config.ConflictPolicy = policy
	config.Backoff = config.Backoff.Normalize()
	if config.TailLines <= 0 {
		config.TailLines = 100
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:    config,
		registry:  deps.Registry,
		secrets:   deps.Secrets,
		builder:   deps.Builder,
		scheduler: deps.Scheduler,
		logs:      deps.Logs,
		locks:     store.NewNameLocks(),
		logger:    logger.With("component", "orchestrator"),
		now:       time.Now,
		sleep:     sleepCtx,
		newID:     newAttemptID,
	}, nil
}

// =============================================================================
// Service Queries
// =============================================================================

// ListServices returns service names in order of first deploy.
func (o *Orchestrator) ListServices(ctx context.Context) ([]string, error) {
	return o.registry.List(ctx)
}

// GetService returns the endpoints of the last successful deploy of name.
func (o *Orchestrator) GetService(ctx context.Context, name string) (domain.ServiceResponse, error) {
	rec, err := o.registry.Get(ctx, name)
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	return rec.Response, nil
}

// DescribeService returns the full registry record of name.
func (o *Orchestrator) DescribeService(ctx context.Context, name string) (*domain.DeploymentRecord, error) {
	return o.registry.Get(ctx, name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
