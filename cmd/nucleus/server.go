package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/shell/api"
	"github.com/artpar/nucleus/internal/shell/docker"
	"github.com/artpar/nucleus/internal/shell/orchestrator"
	"github.com/artpar/nucleus/internal/shell/secrets"
	"github.com/artpar/nucleus/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Nucleus application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	registry   *store.SQLiteRegistry
	docker     docker.Client
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open the service registry
	registry, err := store.NewSQLiteRegistry(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		registry.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Verify Docker connection
	if err := d.Ping(context.Background()); err != nil {
		registry.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Backoff:        cfg.Deploy.Backoff(),
		ConflictPolicy: orchestrator.ConflictPolicy(cfg.Deploy.ConflictPolicy),
		TailLines:      cfg.Logs.TailLines,
	}, orchestrator.Deps{
		Registry:  registry,
		Secrets:   newSecretsResolver(cfg, logger),
		Builder:   docker.NewBuilder(d, logger),
		Scheduler: docker.NewScheduler(d, cfg.Scheduler(), logger),
		Logs:      docker.NewLogSource(d, cfg.Logs.TailGracePeriod, logger),
		Logger:    logger,
	})
	if err != nil {
		registry.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	handler := api.NewHandler(orch, api.Config{APIToken: cfg.Server.APIToken}, logger)
	handler.AddReadyCheck("database", registry.Ping)
	handler.AddReadyCheck("docker", d.Ping)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server configured",
		"base_domain", cfg.Domain.BaseDomain,
		"conflict_policy", cfg.Deploy.ConflictPolicy,
		"max_attempts", cfg.Deploy.MaxAttempts,
	)

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		registry:   registry,
		docker:     d,
		logger:     logger,
	}, nil
}

// newSecretsResolver registers a backend for every secrets type. Backends
// missing platform configuration still register and fail at resolve time
// with a message naming what is missing.
func newSecretsResolver(cfg *Config, logger *slog.Logger) *secrets.Resolver {
	sc := cfg.Secrets
	if sc.NucleusMasterKey == "" {
		logger.Warn("secrets.nucleus_master_key not set; nucleus-managed secrets will fail to resolve")
	}

	return secrets.NewResolver(map[domain.SecretsType]secrets.Backend{
		domain.SecretsNucleus: secrets.NewNucleusBackend([]byte(sc.NucleusMasterKey)),
		domain.SecretsAwsCmk: secrets.NewAwsCmkBackend(secrets.AwsConfig{
			AccessKeyID:     sc.AWS.AccessKeyID,
			SecretAccessKey: sc.AWS.SecretAccessKey,
			SessionToken:    sc.AWS.SessionToken,
			Region:          sc.AWS.Region,
			SessionName:     sc.AWS.SessionName,
		}, logger),
		domain.SecretsVault: secrets.NewVaultBackend(secrets.VaultConfig{
			Address:    sc.Vault.Address,
			Namespace:  sc.Vault.Namespace,
			AuthMethod: sc.Vault.AuthMethod,
			AuthMount:  sc.Vault.AuthMount,
			JWTPath:    sc.Vault.JWTPath,
			RoleID:     sc.Vault.RoleID,
			SecretID:   sc.Vault.SecretID,
			Token:      sc.Vault.Token,
			Timeout:    sc.Vault.Timeout,
			MaxRetries: sc.Vault.MaxRetries,
		}, logger),
	}, logger)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}

	return s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops accepting requests and waits for in-flight ones, deploys
// included, up to the shutdown timeout. The registry closes last.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("draining HTTP server", "timeout", s.config.Server.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("drain incomplete", "error", err)
	}

	s.close()
	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) close() {
	if err := s.docker.Close(); err != nil {
		s.logger.Error("close docker client", "error", err)
	}
	if err := s.registry.Close(); err != nil {
		s.logger.Error("close registry", "error", err)
	}
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
