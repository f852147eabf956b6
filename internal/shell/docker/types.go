// Package docker adapts the Docker Engine API to the builder, scheduler and
// log source the orchestrator drives.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec is one service container. Port is exposed on Network only;
// service containers never bind host ports, the edge proxy reaches them over
// the network.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Labels  map[string]string
	Port    int
	Network string   // network the container is created on
	Aliases []string // DNS names on every network the container joins
	Restart string   // restart policy, "" for none
}

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo is what the scheduler and log source need to know about a
// container.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Status  ContainerStatus
	Created time.Time
	Labels  map[string]string

	// Populated by InspectContainer only.
	ExitCode     int
	Health       string // image health check status, "" when none is defined
	RestartCount int
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool                // Include stopped containers
	Filters map[string][]string // e.g., {"label": {"io.nucleus.service=web"}}
}

// LogOptions selects part of a container's log.
type LogOptions struct {
	Follow bool
	Tail   string // "all" or a line count
	Since  time.Time
}

// RegistryAuth holds credentials for pulling from a private registry.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
	IdentityToken string
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Auth *RegistryAuth
}

// BuildOptions defines options for building an image.
type BuildOptions struct {
	// Context is a tar stream of the build context.
	Context    io.Reader
	Dockerfile string // path of the Dockerfile inside Context
	Tag        string
	Labels     map[string]string
	// Output receives the human readable build progress.
	Output io.Writer
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the slice of the Docker Engine API nucleus uses.
type Client interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)

	EnsureNetwork(ctx context.Context, name string, labels map[string]string) error
	ConnectNetwork(ctx context.Context, name, containerID string, aliases []string) error

	PullImage(ctx context.Context, image string, opts PullOptions) error
	ImageExists(ctx context.Context, image string) (bool, error)
	BuildImage(ctx context.Context, opts BuildOptions) error

	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "io.nucleus.managed"
	LabelService = "io.nucleus.service"
	LabelVersion = "io.nucleus.version"
	LabelAttempt = "io.nucleus.attempt"
)
