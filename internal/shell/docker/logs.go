package docker

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
)

// =============================================================================
// LogSource - Container Output
// =============================================================================

// LogSource reads service output from the container of its current version.
type LogSource struct {
	docker Client
	grace  time.Duration
	logger *slog.Logger
}

// NewLogSource creates a log source. grace bounds how long Close on a tail
// stream waits for the upstream copier to stop.
func NewLogSource(docker Client, grace time.Duration, logger *slog.Logger) *LogSource {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &LogSource{
		docker: docker,
		grace:  grace,
		logger: logger.With("component", "logs"),
	}
}

// Fetch returns the lines the service emitted since the given time, oldest
// first. A service without a container has no lines.
func (l *LogSource) Fetch(ctx context.Context, service string, since time.Time) ([]string, error) {
	c, err := l.currentContainer(ctx, service)
	if errors.Is(err, ErrNoContainer) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	rc, err := l.docker.ContainerLogs(ctx, c.ID, LogOptions{Since: since, Tail: "all"})
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, NewDockerError("logs", c.Name, "read log stream", err)
	}
	return splitLines(buf.String()), nil
}

// Tail opens a plain text stream of the last lines of output, followed by
// live output when follow is set. Closing the stream releases the upstream
// subscription.
func (l *LogSource) Tail(ctx context.Context, service string, lines int, follow bool) (io.ReadCloser, error) {
	c, err := l.currentContainer(ctx, service)
	if errors.Is(err, ErrNoContainer) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if err != nil {
		return nil, err
	}

	tail := "all"
	if lines > 0 {
		tail = strconv.Itoa(lines)
	}

	rc, err := l.docker.ContainerLogs(ctx, c.ID, LogOptions{Tail: tail, Follow: follow})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("tail opened", "service", service, "container", c.Name, "follow", follow)
	return newDemuxStream(rc, l.grace), nil
}

// currentContainer picks the running container with the highest version,
// falling back to the newest stopped one.
func (l *LogSource) currentContainer(ctx context.Context, service string) (ContainerInfo, error) {
	containers, err := l.docker.ListContainers(ctx, ListOptions{All: true, Filters: serviceFilter(service)})
	if err != nil {
		return ContainerInfo{}, err
	}
	if len(containers) == 0 {
		return ContainerInfo{}, ErrNoContainer
	}

	slices.SortFunc(containers, func(a, b ContainerInfo) int {
		ar, br := a.Status == ContainerStatusRunning, b.Status == ContainerStatusRunning
		if ar != br {
			if ar {
				return -1
			}
			return 1
		}
		return cmp.Compare(labelVersion(b), labelVersion(a))
	})
	return containers[0], nil
}

func labelVersion(c ContainerInfo) int64 {
	v, _ := strconv.ParseInt(c.Labels[LabelVersion], 10, 64)
	return v
}

func splitLines(s string) []string {
	lines := []string{}
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// =============================================================================
// Demultiplexed Stream
// =============================================================================

// demuxStream turns a multiplexed stdout/stderr stream into plain text.
type demuxStream struct {
	upstream io.ReadCloser
	pr       *io.PipeReader
	done     chan struct{}
	grace    time.Duration
	once     sync.Once
}

func newDemuxStream(upstream io.ReadCloser, grace time.Duration) *demuxStream {
	pr, pw := io.Pipe()
	s := &demuxStream{
		upstream: upstream,
		pr:       pr,
		done:     make(chan struct{}),
		grace:    grace,
	}
	go func() {
		defer close(s.done)
		_, err := stdcopy.StdCopy(pw, pw, upstream)
		pw.CloseWithError(err)
	}()
	return s
}

func (s *demuxStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close closes the upstream and waits at most the grace period for the
// copier to stop.
func (s *demuxStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.upstream.Close()
		s.pr.Close()
		select {
		case <-s.done:
		case <-time.After(s.grace):
		}
	})
	return err
}
