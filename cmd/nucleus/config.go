package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/shell/docker"
	"github.com/artpar/nucleus/internal/shell/orchestrator"
	"github.com/artpar/nucleus/internal/shell/secrets"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Log      LogConfig      `mapstructure:"log"`
	Domain   DomainConfig   `mapstructure:"domain"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIToken is the bearer token required on /api/v1. Empty disables the check.
	APIToken string `mapstructure:"api_token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DomainConfig holds public hostname configuration.
type DomainConfig struct {
	BaseDomain string `mapstructure:"base_domain"`
	TLS        bool   `mapstructure:"tls"`
}

// DeployConfig holds deploy policy.
type DeployConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	ConflictPolicy string        `mapstructure:"conflict_policy"`
	StartupGrace   time.Duration `mapstructure:"startup_grace"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

// LogsConfig holds log streaming configuration.
type LogsConfig struct {
	TailLines       int           `mapstructure:"tail_lines"`
	TailGracePeriod time.Duration `mapstructure:"tail_grace_period"`
}

// SecretsConfig holds the platform side of each secrets backend.
type SecretsConfig struct {
	// NucleusMasterKey unseals nucleus-managed values.
	// Set via NUCLEUS_SECRETS_NUCLEUS_MASTER_KEY.
	NucleusMasterKey string      `mapstructure:"nucleus_master_key"`
	AWS              AWSConfig   `mapstructure:"aws"`
	Vault            VaultConfig `mapstructure:"vault"`
}

// AWSConfig holds the base identity used to assume service roles.
type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`
	SessionName     string `mapstructure:"session_name"`
}

// VaultConfig holds how Nucleus reaches and authenticates to Vault.
type VaultConfig struct {
	Address    string        `mapstructure:"address"`
	Namespace  string        `mapstructure:"namespace"`
	AuthMethod string        `mapstructure:"auth_method"`
	AuthMount  string        `mapstructure:"auth_mount"`
	JWTPath    string        `mapstructure:"jwt_path"`
	RoleID     string        `mapstructure:"role_id"`
	SecretID   string        `mapstructure:"secret_id"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m") // deploys run inside the request
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_token", "")
	v.SetDefault("database.dsn", "./data/nucleus.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("domain.base_domain", "apps.localhost")
	v.SetDefault("domain.tls", false)

	// Deploy policy
	defaults := deployment.DefaultBackoff()
	v.SetDefault("deploy.max_attempts", defaults.MaxAttempts)
	v.SetDefault("deploy.initial_backoff", defaults.Initial)
	v.SetDefault("deploy.max_backoff", defaults.Max)
	v.SetDefault("deploy.conflict_policy", string(orchestrator.ConflictQueue))
	v.SetDefault("deploy.startup_grace", "3s")
	v.SetDefault("deploy.stop_timeout", "10s")

	// Logs
	v.SetDefault("logs.tail_lines", 100)
	v.SetDefault("logs.tail_grace_period", "5s")

	// Secrets backends; credentials come from the environment
	v.SetDefault("secrets.nucleus_master_key", "")
	v.SetDefault("secrets.aws.access_key_id", "")
	v.SetDefault("secrets.aws.secret_access_key", "")
	v.SetDefault("secrets.aws.session_token", "")
	v.SetDefault("secrets.aws.region", "")
	v.SetDefault("secrets.aws.session_name", "nucleus-deploy")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.namespace", "")
	v.SetDefault("secrets.vault.auth_method", secrets.VaultAuthJWT)
	v.SetDefault("secrets.vault.auth_mount", "")
	v.SetDefault("secrets.vault.jwt_path", "/var/run/secrets/kubernetes.io/serviceaccount/token")
	v.SetDefault("secrets.vault.role_id", "")
	v.SetDefault("secrets.vault.secret_id", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.timeout", "10s")
	v.SetDefault("secrets.vault.max_retries", 2)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("NUCLEUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Deploy.MaxAttempts < 1 {
		return fmt.Errorf("deploy.max_attempts must be at least 1, got %d", c.Deploy.MaxAttempts)
	}
	if c.Deploy.InitialBackoff > c.Deploy.MaxBackoff {
		return fmt.Errorf("deploy.initial_backoff %s exceeds deploy.max_backoff %s", c.Deploy.InitialBackoff, c.Deploy.MaxBackoff)
	}
	if _, err := orchestrator.ParseConflictPolicy(c.Deploy.ConflictPolicy); err != nil {
		return fmt.Errorf("deploy.conflict_policy: %w", err)
	}
	switch c.Secrets.Vault.AuthMethod {
	case secrets.VaultAuthJWT, secrets.VaultAuthAppRole, secrets.VaultAuthToken:
	default:
		return fmt.Errorf("secrets.vault.auth_method %q is not one of jwt, approle, token", c.Secrets.Vault.AuthMethod)
	}
	return nil
}

// Backoff returns the provisioning retry policy.
func (c DeployConfig) Backoff() deployment.Backoff {
	b := deployment.DefaultBackoff()
	b.MaxAttempts = c.MaxAttempts
	b.Initial = c.InitialBackoff
	b.Max = c.MaxBackoff
	return b
}

// Scheduler returns the container placement settings.
func (c *Config) Scheduler() docker.SchedulerConfig {
	return docker.SchedulerConfig{
		BaseDomain:   c.Domain.BaseDomain,
		TLS:          c.Domain.TLS,
		StartupGrace: c.Deploy.StartupGrace,
		StopTimeout:  c.Deploy.StopTimeout,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
