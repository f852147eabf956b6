package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/artpar/nucleus/internal/core/artifact"
	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/core/monitoring"
	"github.com/artpar/nucleus/internal/core/traefik"
)

// =============================================================================
// Scheduler - Places Service Containers
// =============================================================================

// SchedulerConfig controls how containers are placed and exposed.
type SchedulerConfig struct {
	// BaseDomain is the parent domain of public service hostnames.
	BaseDomain string

	// TLS publishes public services on the websecure entrypoint.
	TLS bool

	// StartupGrace is how long a container must stay up after start before
	// it counts as running.
	StartupGrace time.Duration

	// StopTimeout bounds the graceful stop of replaced containers.
	StopTimeout time.Duration
}

// Scheduler runs one container per service version. Containers are isolated
// on per-service networks; see serviceNetworks.
type Scheduler struct {
	docker Client
	config SchedulerConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler.
func NewScheduler(docker Client, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BaseDomain == "" {
		config.BaseDomain = "localhost"
	}
	if config.StopTimeout == 0 {
		config.StopTimeout = 10 * time.Second
	}
	return &Scheduler{
		docker: docker,
		config: config,
		logger: logger.With("component", "scheduler"),
		sleep:  sleepCtx,
	}
}

// Provision starts the requested version of a service and retires older
// versions once it is up. Failures that may pass on retry wrap
// domain.ErrTransient.
func (s *Scheduler) Provision(ctx context.Context, req deployment.ProvisionRequest) (domain.ServiceResponse, error) {
	logger := s.logger.With("service", req.Service, "version", req.Version, "attempt_id", req.AttemptID)

	networks := serviceNetworks(req)
	for _, name := range networks {
		if err := s.docker.EnsureNetwork(ctx, name, map[string]string{LabelManaged: "true"}); err != nil {
			return domain.ServiceResponse{}, markTransient(err)
		}
	}

	if req.Pull {
		logger.Info("pulling image", "image", req.Image)
		if err := s.docker.PullImage(ctx, req.Image, PullOptions{Auth: registryAuth(req.Credentials)}); err != nil {
			return domain.ServiceResponse{}, markTransient(err)
		}
	} else {
		ok, err := s.docker.ImageExists(ctx, req.Image)
		if err != nil {
			return domain.ServiceResponse{}, markTransient(err)
		}
		if !ok {
			return domain.ServiceResponse{}, NewDockerError("provision", req.Image, "built image not present locally", ErrImageNotFound)
		}
	}

	route := traefik.Route{
		Service:  req.Service,
		Hostname: deployment.Hostname(req.Service, s.config.BaseDomain),
		Port:     artifact.DefaultPort,
		TLS:      s.config.TLS,
		Network:  deployment.NetworkName,
	}
	spec := s.containerSpec(req, route)
	spec.Network = networks[0]

	// A failed attempt at the same version may have left its container.
	if err := s.docker.RemoveContainer(ctx, spec.Name, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return domain.ServiceResponse{}, markTransient(err)
	}

	containerID, err := s.docker.CreateContainer(ctx, spec)
	if err != nil {
		return domain.ServiceResponse{}, markTransient(err)
	}
	logger.Debug("created container", "container_id", shortID(containerID))

	for _, name := range networks[1:] {
		if err := s.docker.ConnectNetwork(ctx, name, containerID, spec.Aliases); err != nil {
			s.cleanup(containerID, logger)
			return domain.ServiceResponse{}, markTransient(err)
		}
	}

	if err := s.start(ctx, containerID); err != nil {
		s.cleanup(containerID, logger)
		return domain.ServiceResponse{}, markTransient(err)
	}
	logger.Info("container running", "container_id", shortID(containerID))

	s.retireOlder(ctx, req.Service, containerID, logger)

	return s.endpoints(req, route), nil
}

func (s *Scheduler) containerSpec(req deployment.ProvisionRequest, route traefik.Route) ContainerSpec {
	env := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		env[k] = v
	}
	if _, ok := env["PORT"]; !ok {
		env["PORT"] = strconv.Itoa(artifact.DefaultPort)
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelService: req.Service,
		LabelVersion: strconv.FormatInt(req.Version, 10),
		LabelAttempt: req.AttemptID,
	}
	if !req.Private {
		for k, v := range traefik.Labels(route) {
			labels[k] = v
		}
	}

	return ContainerSpec{
		Name:    deployment.ContainerName(req.Service, req.Version),
		Image:   req.Image,
		Env:     env,
		Labels:  labels,
		Port:    artifact.DefaultPort,
		Aliases: []string{req.Service},
		Restart: "unless-stopped",
	}
}

// start starts the container and checks it is still up after the startup
// grace period.
func (s *Scheduler) start(ctx context.Context, containerID string) error {
	if err := s.docker.StartContainer(ctx, containerID); err != nil {
		return err
	}

	if s.config.StartupGrace > 0 {
		if err := s.sleep(ctx, s.config.StartupGrace); err != nil {
			return err
		}
	}

	info, err := s.docker.InspectContainer(ctx, containerID)
	if err != nil {
		return err
	}
	verdict := monitoring.AssessStartup(monitoring.ContainerState{
		Status:      string(info.Status),
		HealthCheck: info.Health,
		Restarts:    info.RestartCount,
		ExitCode:    info.ExitCode,
	})
	if verdict.Serving() {
		return nil
	}

	sentinel := ErrContainerUnhealthy
	if info.Status == ContainerStatusExited || info.Status == ContainerStatusDead {
		sentinel = ErrContainerExited
	}
	return NewDockerError("provision", info.Name, verdict.Reason, sentinel)
}

// retireOlder stops and removes every other container of the service.
// Failures are logged; the new version is already serving.
func (s *Scheduler) retireOlder(ctx context.Context, service, keepID string, logger *slog.Logger) {
	containers, err := s.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: serviceFilter(service),
	})
	if err != nil {
		logger.Warn("failed to list old containers", "error", err)
		return
	}

	for _, c := range containers {
		if c.ID == keepID {
			continue
		}
		timeout := s.config.StopTimeout
		if err := s.docker.StopContainer(ctx, c.ID, &timeout); err != nil && !errors.Is(err, ErrContainerNotRunning) {
			logger.Warn("failed to stop old container", "container", c.Name, "error", err)
		}
		if err := s.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			logger.Warn("failed to remove old container", "container", c.Name, "error", err)
			continue
		}
		logger.Debug("retired container", "container", c.Name)
	}
}

func (s *Scheduler) cleanup(containerID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.docker.RemoveContainer(ctx, containerID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
		logger.Warn("failed to remove failed container", "container_id", shortID(containerID), "error", err)
	}
}

// endpoints derives the service response. Private services are only
// reachable on the internal network.
func (s *Scheduler) endpoints(req deployment.ProvisionRequest, route traefik.Route) domain.ServiceResponse {
	internal := fmt.Sprintf("http://%s:%d", req.Service, artifact.DefaultPort)
	if req.Private {
		return domain.ServiceResponse{URL: internal, InternalURL: internal}
	}
	external := traefik.ExternalURL(route)
	return domain.ServiceResponse{
		URL:         external,
		ExternalURL: external,
		InternalURL: internal,
	}
}

// =============================================================================
// Helpers
// =============================================================================

// serviceNetworks lists the networks a service container joins, its own
// network first. Public services also join the shared network the edge proxy
// routes over. A service reaches another only through the other's own
// network, which it joins when it lists that service in AllowedServices.
func serviceNetworks(req deployment.ProvisionRequest) []string {
	networks := []string{deployment.ServiceNetworkName(req.Service)}
	if !req.Private {
		networks = append(networks, deployment.NetworkName)
	}
	for _, dep := range req.AllowedServices {
		networks = append(networks, deployment.ServiceNetworkName(dep))
	}
	return networks
}

func serviceFilter(service string) map[string][]string {
	return map[string][]string{
		"label": {
			LabelManaged + "=true",
			LabelService + "=" + service,
		},
	}
}

func registryAuth(c domain.RegistryCredentials) *RegistryAuth {
	if c.Empty() {
		return nil
	}
	return &RegistryAuth{
		Username:      c.Username,
		Password:      c.Password,
		ServerAddress: c.ServerAddress,
		IdentityToken: c.IdentityToken,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
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
