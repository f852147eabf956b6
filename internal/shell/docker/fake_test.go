package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
)

// fakeClient is an in-memory Client for unit tests.
type fakeClient struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*ContainerInfo // by ID
	env        map[string]map[string]string
	networks   map[string]bool
	attached   map[string][]string // container ID → networks, in join order
	pulls      []PullOptions
	builds     []BuildOptions
	buildTar   []byte
	logs       map[string]string // container ID → stdout
	logOpts    []LogOptions

	createErr error
	pullErr   error
	buildErr  error
	startErr  error
	// missing lists images ImageExists reports absent.
	missing map[string]bool
	// exitOnStart makes started containers report exited.
	exitOnStart bool
	// startState, when set, is applied to started containers.
	startState func(c *ContainerInfo)
	// stream, when set, is returned for follow log requests.
	stream io.ReadCloser
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: make(map[string]*ContainerInfo),
		env:        make(map[string]map[string]string),
		networks:   make(map[string]bool),
		attached:   make(map[string][]string),
		logs:       make(map[string]string),
	}
}

func (f *fakeClient) addContainer(name string, status ContainerStatus, labels map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("c%02d", f.seq)
	f.containers[id] = &ContainerInfo{ID: id, Name: name, Status: status, Labels: labels}
	return id
}

func (f *fakeClient) byRef(ref string) *ContainerInfo {
	if c, ok := f.containers[ref]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.Name == ref {
			return c
		}
	}
	return nil
}

func (f *fakeClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := f.addContainer(spec.Name, ContainerStatusCreated, spec.Labels)
	f.mu.Lock()
	f.containers[id].Image = spec.Image
	f.env[id] = spec.Env
	if spec.Network != "" {
		f.attached[id] = []string{spec.Network}
	}
	f.mu.Unlock()
	return id, nil
}

func (f *fakeClient) StartContainer(ctx context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byRef(id)
	if c == nil {
		return ErrContainerNotFound
	}
	c.Status = ContainerStatusRunning
	if f.exitOnStart {
		c.Status = ContainerStatusExited
		c.ExitCode = 1
	}
	if f.startState != nil {
		f.startState(c)
	}
	return nil
}

func (f *fakeClient) StopContainer(ctx context.Context, id string, timeout *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byRef(id)
	if c == nil {
		return ErrContainerNotFound
	}
	c.Status = ContainerStatusExited
	return nil
}

func (f *fakeClient) RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byRef(id)
	if c == nil {
		return NewDockerError("remove", id, "container not found", ErrContainerNotFound)
	}
	delete(f.containers, c.ID)
	return nil
}

func (f *fakeClient) InspectContainer(ctx context.Context, id string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byRef(id)
	if c == nil {
		return nil, ErrContainerNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, c := range f.containers {
		if matchesLabels(c.Labels, opts.Filters["label"]) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func matchesLabels(labels map[string]string, filters []string) bool {
	for _, f := range filters {
		found := false
		for k, v := range labels {
			if k+"="+v == f {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeClient) ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logOpts = append(f.logOpts, opts)
	if opts.Follow && f.stream != nil {
		return f.stream, nil
	}
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	io.WriteString(w, f.logs[id])
	return io.NopCloser(&buf), nil
}

func (f *fakeClient) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

func (f *fakeClient) ConnectNetwork(ctx context.Context, name, containerID string, aliases []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.networks[name] {
		return NewDockerError("connect", name, "network not found", nil)
	}
	c := f.byRef(containerID)
	if c == nil {
		return ErrContainerNotFound
	}
	f.attached[c.ID] = append(f.attached[c.ID], name)
	return nil
}

func (f *fakeClient) PullImage(ctx context.Context, image string, opts PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, opts)
	return f.pullErr
}

func (f *fakeClient) ImageExists(ctx context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[image], nil
}

func (f *fakeClient) BuildImage(ctx context.Context, opts BuildOptions) error {
	data, err := io.ReadAll(opts.Context)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.builds = append(f.builds, opts)
	f.buildTar = data
	f.mu.Unlock()
	if opts.Output != nil {
		io.WriteString(opts.Output, "Step 1/7 : FROM node:20-alpine\n")
	}
	return f.buildErr
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                   { return nil }
