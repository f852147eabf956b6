package docker

import (
	"context"
	"errors"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/core/domain"
)

func newTestScheduler(fake *fakeClient) *Scheduler {
	return NewScheduler(fake, SchedulerConfig{BaseDomain: "apps.example.com", TLS: true}, nil)
}

func provisionRequest(version int64) deployment.ProvisionRequest {
	return deployment.ProvisionRequest{
		Service:   "web",
		Version:   version,
		AttemptID: "attempt-1",
		Image:     "nginx:alpine",
		Pull:      true,
		Env:       map[string]string{"FOO": "bar"},
	}
}

func TestProvision_PublicService(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)

	resp, err := s.Provision(context.Background(), provisionRequest(1))
	require.NoError(t, err)

	assert.Equal(t, "https://web.apps.example.com", resp.URL)
	assert.Equal(t, "https://web.apps.example.com", resp.ExternalURL)
	assert.Equal(t, "http://web:8080", resp.InternalURL)
	assert.True(t, fake.networks[deployment.NetworkName])

	info, err := fake.InspectContainer(context.Background(), "nucleus_web_v1")
	require.NoError(t, err)
	assert.Equal(t, ContainerStatusRunning, info.Status)
	assert.Equal(t, "web", info.Labels[LabelService])
	assert.Equal(t, "1", info.Labels[LabelVersion])
	assert.Equal(t, "true", info.Labels["traefik.enable"])

	env := fake.env[info.ID]
	assert.Equal(t, "bar", env["FOO"])
	assert.Equal(t, "8080", env["PORT"])
}

func TestProvision_PrivateService(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)

	req := provisionRequest(1)
	req.Private = true
	resp, err := s.Provision(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, resp.ExternalURL)
	assert.Equal(t, "http://web:8080", resp.InternalURL)
	assert.Equal(t, resp.InternalURL, resp.URL)

	info, err := fake.InspectContainer(context.Background(), "nucleus_web_v1")
	require.NoError(t, err)
	_, routed := info.Labels["traefik.enable"]
	assert.False(t, routed)
	assert.Equal(t, []string{"nucleus_svc_web"}, fake.attached[info.ID])
}

func TestProvision_Networks(t *testing.T) {
	tests := []struct {
		name    string
		private bool
		allowed []string
		want    []string
	}{
		{"public", false, nil, []string{"nucleus_svc_web", deployment.NetworkName}},
		{"private", true, nil, []string{"nucleus_svc_web"}},
		{"public with allowed services", false, []string{"db", "cache"},
			[]string{"nucleus_svc_web", deployment.NetworkName, "nucleus_svc_db", "nucleus_svc_cache"}},
		{"private with allowed services", true, []string{"db"},
			[]string{"nucleus_svc_web", "nucleus_svc_db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			s := newTestScheduler(fake)

			req := provisionRequest(1)
			req.Private = tt.private
			req.AllowedServices = tt.allowed
			_, err := s.Provision(context.Background(), req)
			require.NoError(t, err)

			info, err := fake.InspectContainer(context.Background(), "nucleus_web_v1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, fake.attached[info.ID])
			for _, n := range tt.want {
				assert.True(t, fake.networks[n], n)
			}
		})
	}
}

func TestProvision_ExplicitPortKept(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)

	req := provisionRequest(1)
	req.Env["PORT"] = "3000"
	_, err := s.Provision(context.Background(), req)
	require.NoError(t, err)

	info, err := fake.InspectContainer(context.Background(), "nucleus_web_v1")
	require.NoError(t, err)
	assert.Equal(t, "3000", fake.env[info.ID]["PORT"])
}

func TestProvision_RetiresOlderVersions(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)
	ctx := context.Background()

	_, err := s.Provision(ctx, provisionRequest(1))
	require.NoError(t, err)
	_, err = s.Provision(ctx, provisionRequest(2))
	require.NoError(t, err)

	containers, err := fake.ListContainers(ctx, ListOptions{All: true, Filters: serviceFilter("web")})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "nucleus_web_v2", containers[0].Name)
}

func TestProvision_FailureKeepsPreviousVersion(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)
	ctx := context.Background()

	_, err := s.Provision(ctx, provisionRequest(1))
	require.NoError(t, err)

	fake.exitOnStart = true
	_, err = s.Provision(ctx, provisionRequest(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerExited)
	assert.False(t, domain.IsTransient(err))

	containers, err := fake.ListContainers(ctx, ListOptions{All: true, Filters: serviceFilter("web")})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "nucleus_web_v1", containers[0].Name)
	assert.Equal(t, ContainerStatusRunning, containers[0].Status)
}

func TestProvision_UnhealthyStartFails(t *testing.T) {
	tests := []struct {
		name  string
		apply func(c *ContainerInfo)
	}{
		{"crash loop", func(c *ContainerInfo) { c.RestartCount = 2 }},
		{"failing health check", func(c *ContainerInfo) { c.Health = "unhealthy" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			fake.startState = tt.apply
			s := newTestScheduler(fake)

			_, err := s.Provision(context.Background(), provisionRequest(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrContainerUnhealthy)
			assert.False(t, domain.IsTransient(err))

			containers, err := fake.ListContainers(context.Background(), ListOptions{All: true})
			require.NoError(t, err)
			assert.Empty(t, containers)
		})
	}
}

func TestProvision_HealthCheckStartingIsAccepted(t *testing.T) {
	fake := newFakeClient()
	fake.startState = func(c *ContainerInfo) { c.Health = "starting" }
	s := newTestScheduler(fake)

	_, err := s.Provision(context.Background(), provisionRequest(1))
	assert.NoError(t, err)
}

func TestProvision_TransientErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*fakeClient)
		transient bool
	}{
		{"engine unavailable", func(f *fakeClient) {
			f.createErr = NewDockerError("create", "x", "busy", cerrdefs.ErrUnavailable)
		}, true},
		{"name conflict", func(f *fakeClient) {
			f.createErr = NewDockerError("create", "x", "name in use", ErrContainerAlreadyExists)
		}, true},
		{"pull failed", func(f *fakeClient) {
			f.pullErr = NewDockerError("pull", "x", "reset", ErrImagePullFailed)
		}, true},
		{"image not found", func(f *fakeClient) {
			f.pullErr = NewDockerError("pull", "x", "image not found", ErrImageNotFound)
		}, false},
		{"unknown", func(f *fakeClient) {
			f.startErr = errors.New("invalid mount config")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			tt.setup(fake)

			_, err := newTestScheduler(fake).Provision(context.Background(), provisionRequest(1))
			require.Error(t, err)
			assert.Equal(t, tt.transient, domain.IsTransient(err))
		})
	}
}

func TestProvision_RegistryCredentials(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)

	req := provisionRequest(1)
	req.Credentials = domain.RegistryCredentials{Username: "u", Password: "p", ServerAddress: "ghcr.io"}
	_, err := s.Provision(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, fake.pulls, 1)
	require.NotNil(t, fake.pulls[0].Auth)
	assert.Equal(t, "ghcr.io", fake.pulls[0].Auth.ServerAddress)
}

func TestProvision_BuiltImageNotPulled(t *testing.T) {
	fake := newFakeClient()
	s := newTestScheduler(fake)

	req := provisionRequest(1)
	req.Pull = false
	_, err := s.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, fake.pulls)
}

func TestProvision_BuiltImageMustExistLocally(t *testing.T) {
	fake := newFakeClient()
	fake.missing = map[string]bool{"nucleus/web:attempt-1": true}
	s := newTestScheduler(fake)

	req := provisionRequest(1)
	req.Image = "nucleus/web:attempt-1"
	req.Pull = false

	_, err := s.Provision(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.False(t, domain.IsTransient(err))
	assert.Empty(t, fake.pulls)
}
