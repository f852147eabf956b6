package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/nucleus/internal/core/deployment"
	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeSecrets struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSecrets) Resolve(ctx context.Context, ref *domain.SecretsRef) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if ref == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(f.values), nil
}

type fakeBuilder struct {
	mu       sync.Mutex
	calls    int
	err      error
	requests []deployment.BuildRequest
	// release, when set, blocks Build until closed.
	release chan struct{}
	started chan struct{}
}

func (f *fakeBuilder) Build(ctx context.Context, req deployment.BuildRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	release, started := f.release, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if f.err != nil {
		return "", f.err
	}
	return req.Tag(), nil
}

type fakeScheduler struct {
	mu          sync.Mutex
	calls       int
	errs        []error // consumed one per call
	requests    []deployment.ProvisionRequest
	inflight    map[string]int
	maxInflight map[string]int
	total       int
	maxTotal    int
	// hold keeps each call in flight for this long.
	hold time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{inflight: map[string]int{}, maxInflight: map[string]int{}}
}

func (f *fakeScheduler) Provision(ctx context.Context, req deployment.ProvisionRequest) (domain.ServiceResponse, error) {
	f.mu.Lock()
	f.calls++
	req.Env = maps.Clone(req.Env)
	f.requests = append(f.requests, req)
	f.inflight[req.Service]++
	f.total++
	f.maxInflight[req.Service] = max(f.maxInflight[req.Service], f.inflight[req.Service])
	f.maxTotal = max(f.maxTotal, f.total)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	hold := f.hold
	f.mu.Unlock()

	time.Sleep(hold)

	f.mu.Lock()
	f.inflight[req.Service]--
	f.total--
	f.mu.Unlock()

	if err != nil {
		return domain.ServiceResponse{}, err
	}
	url := fmt.Sprintf("https://%s.apps.test/%s", req.Service, req.Image)
	return domain.ServiceResponse{
		URL:         url,
		ExternalURL: url,
		InternalURL: fmt.Sprintf("http://%s:8080", req.Service),
	}, nil
}

func (f *fakeScheduler) lastRequest() deployment.ProvisionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeLogs struct {
	mu     sync.Mutex
	lines  []string
	since  time.Time
	tailN  int
	follow bool
	stream *fakeStream
}

func (f *fakeLogs) Fetch(ctx context.Context, service string, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.lines, nil
}

func (f *fakeLogs) Tail(ctx context.Context, service string, lines int, follow bool) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tailN, f.follow = lines, follow
	if f.stream != nil {
		return f.stream, nil
	}
	return io.NopCloser(strings.NewReader(strings.Join(f.lines, "\n"))), nil
}

// fakeStream is a live log stream fed through a pipe.
type fakeStream struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{pr: pr, pw: pw, closed: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.pr.Close()
		close(s.closed)
	})
	return nil
}

func (s *fakeStream) emit(line string) error {
	_, err := io.WriteString(s.pw, line+"\n")
	return err
}

// =============================================================================
// Helpers
// =============================================================================

type harness struct {
	orch      *Orchestrator
	registry  *store.SQLiteRegistry
	secrets   *fakeSecrets
	builder   *fakeBuilder
	scheduler *fakeScheduler
	logs      *fakeLogs
	sleeps    []time.Duration
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	reg, err := store.NewSQLiteRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	h := &harness{
		registry:  reg,
		secrets:   &fakeSecrets{},
		builder:   &fakeBuilder{},
		scheduler: newFakeScheduler(),
		logs:      &fakeLogs{},
	}
	h.orch = h.build(t, config, h.secrets)
	return h
}

func (h *harness) build(t *testing.T, config Config, secrets SecretsResolver) *Orchestrator {
	t.Helper()
	o, err := New(config, Deps{
		Registry:  h.registry,
		Secrets:   secrets,
		Builder:   h.builder,
		Scheduler: h.scheduler,
		Logs:      h.logs,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return o
}

func imageSpec(name, image string) domain.ServiceSpec {
	return domain.ServiceSpec{
		Name: name,
		Artifact: domain.Artifact{
			Kind:  domain.ArtifactImage,
			Image: &domain.ImageArtifact{Image: image},
		},
	}
}

func sourceSpec(name string) domain.ServiceSpec {
	return domain.ServiceSpec{
		Name:         name,
		BuildCommand: "npm ci",
		StartCommand: "npm start",
		Artifact: domain.Artifact{
			Kind:   domain.ArtifactSource,
			Source: &domain.SourceArtifact{Runtime: domain.RuntimeNodeJS, Directory: "/src/web"},
		},
	}
}

func transient(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrTransient, msg)
}

var errPermanent = errors.New("invalid container config")
