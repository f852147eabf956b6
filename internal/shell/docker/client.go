package docker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Engine Client
// =============================================================================

// DockerClient implements Client against a Docker Engine.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects to host, or to the engine named by DOCKER_HOST and
// friends when host is empty. With no explicit host and an unreachable
// default socket, the Docker Desktop per-user socket is tried.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("connect", host, err.Error(), ErrConnectionFailed)
	}
	if host != "" || os.Getenv(client.EnvOverrideHost) != "" {
		return &DockerClient{cli: cli}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err == nil {
		return &DockerClient{cli: cli}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return &DockerClient{cli: cli}, nil
	}
	desktop, err := client.NewClientWithOpts(
		client.WithHost("unix://"+filepath.Join(home, ".docker", "run", "docker.sock")),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return &DockerClient{cli: cli}, nil
	}
	if _, err := desktop.Ping(ctx); err != nil {
		desktop.Close()
		return &DockerClient{cli: cli}, nil
	}
	cli.Close()
	return &DockerClient{cli: desktop}, nil
}

// Ping checks the engine is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("ping", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Containers
// =============================================================================

// CreateContainer creates spec.Name attached to spec.Network.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Labels: spec.Labels,
		Env:    envList(spec.Env),
	}
	if spec.Port > 0 {
		cfg.ExposedPorts = nat.PortSet{nat.Port(strconv.Itoa(spec.Port) + "/tcp"): struct{}{}}
	}

	host := &container.HostConfig{}
	if spec.Restart != "" {
		host.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.Restart)}
	}

	var net *network.NetworkingConfig
	if spec.Network != "" {
		net = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: spec.Aliases},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, host, net, nil, spec.Name)
	if err != nil {
		return "", engineError("create", spec.Name, err, nil)
	}
	return resp.ID, nil
}

// envList renders env in KEY=value form, sorted so container configs are
// reproducible.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

func (d *DockerClient) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return engineError("start", id, err, ErrContainerNotFound)
	}
	return nil
}

// StopContainer stops a container, waiting up to timeout before the engine
// kills it. A nil timeout uses the container's own stop timeout.
func (d *DockerClient) StopContainer(ctx context.Context, id string, timeout *time.Duration) error {
	var opts container.StopOptions
	if timeout != nil {
		secs := int(timeout.Seconds())
		opts.Timeout = &secs
	}
	if err := d.cli.ContainerStop(ctx, id, opts); err != nil {
		return engineError("stop", id, err, ErrContainerNotFound)
	}
	return nil
}

func (d *DockerClient) RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: opts.Force}); err != nil {
		return engineError("remove", id, err, ErrContainerNotFound)
	}
	return nil
}

// InspectContainer reports a container's state, health check and restart
// count.
func (d *DockerClient) InspectContainer(ctx context.Context, id string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, engineError("inspect", id, err, ErrContainerNotFound)
	}

	info := &ContainerInfo{
		ID:           resp.ID,
		Name:         strings.TrimPrefix(resp.Name, "/"),
		RestartCount: resp.RestartCount,
	}
	info.Created, _ = time.Parse(time.RFC3339Nano, resp.Created)
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if st := resp.State; st != nil {
		info.Status = ContainerStatus(st.Status)
		info.ExitCode = st.ExitCode
		if st.Health != nil {
			info.Health = string(st.Health.Status)
		}
	}
	return info, nil
}

// ListContainers lists containers; opts.Filters uses engine filter syntax.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	args := filters.NewArgs()
	for key, values := range opts.Filters {
		for _, v := range values {
			args.Add(key, v)
		}
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: opts.All, Filters: args})
	if err != nil {
		return nil, engineError("list", "", err, nil)
	}

	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			Status:  ContainerStatus(c.State),
			Created: time.Unix(c.Created, 0),
			Labels:  c.Labels,
		})
	}
	return out, nil
}

// ContainerLogs opens the multiplexed stdout/stderr stream of a container.
func (d *DockerClient) ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	req := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
	}
	if !opts.Since.IsZero() {
		req.Since = strconv.FormatInt(opts.Since.Unix(), 10)
	}

	rc, err := d.cli.ContainerLogs(ctx, id, req)
	if err != nil {
		return nil, engineError("logs", id, err, ErrContainerNotFound)
	}
	return rc, nil
}

// =============================================================================
// Networks
// =============================================================================

// EnsureNetwork creates the bridge network name unless it already exists.
func (d *DockerClient) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return engineError("network", name, err, nil)
	}

	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge", Labels: labels})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return engineError("network", name, err, nil)
	}
	return nil
}

// ConnectNetwork attaches a created container to another network. Joining a
// network the container is already on is not an error.
func (d *DockerClient) ConnectNetwork(ctx context.Context, name, containerID string, aliases []string) error {
	err := d.cli.NetworkConnect(ctx, name, containerID, &network.EndpointSettings{Aliases: aliases})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return engineError("connect", name, err, nil)
	}
	return nil
}

// =============================================================================
// Images
// =============================================================================

// PullImage pulls ref and waits for the pull to finish. Unknown images and
// denied pulls are ErrImageNotFound; anything else is ErrImagePullFailed.
func (d *DockerClient) PullImage(ctx context.Context, ref string, opts PullOptions) error {
	var pull image.PullOptions
	if a := opts.Auth; a != nil {
		encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      a.Username,
			Password:      a.Password,
			ServerAddress: a.ServerAddress,
			IdentityToken: a.IdentityToken,
		})
		if err != nil {
			return NewDockerError("pull", ref, "encode registry credentials", err)
		}
		pull.RegistryAuth = encoded
	}

	rc, err := d.cli.ImagePull(ctx, ref, pull)
	if err != nil {
		if imageMissing(err) {
			return NewDockerError("pull", ref, err.Error(), ErrImageNotFound)
		}
		return NewDockerError("pull", ref, err.Error(), ErrImagePullFailed)
	}
	defer rc.Close()

	// Errors after the pull starts arrive as messages in the progress stream.
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		if imageMissing(err) {
			return NewDockerError("pull", ref, err.Error(), ErrImageNotFound)
		}
		return NewDockerError("pull", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

func imageMissing(err error) bool {
	if client.IsErrNotFound(err) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"not found", "manifest unknown", "repository does not exist", "pull access denied"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ImageExists reports whether ref is present in the local image store.
func (d *DockerClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	if _, err := d.cli.ImageInspect(ctx, ref); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, engineError("inspect image", ref, err, nil)
	}
	return true, nil
}

// BuildImage builds opts.Tag from a tar build context, copying the build
// progress to opts.Output. A failing build step is ErrBuildFailed carrying
// the daemon's message.
func (d *DockerClient) BuildImage(ctx context.Context, opts BuildOptions) error {
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	resp, err := d.cli.ImageBuild(ctx, opts.Context, build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		Labels:      opts.Labels,
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return engineError("build", opts.Tag, err, nil)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return NewDockerError("build", opts.Tag, err.Error(), ErrBuildFailed)
	}
	return nil
}

var _ Client = (*DockerClient)(nil)
