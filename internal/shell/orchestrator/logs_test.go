package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nucleus/internal/core/domain"
)

func deployed(t *testing.T, config Config) *harness {
	t.Helper()
	h := newHarness(t, config)
	_, err := h.orch.Deploy(context.Background(), imageSpec("web", "nginx"))
	require.NoError(t, err)
	return h
}

func collect(t *testing.T, seq func(func(string, error) bool)) []string {
	t.Helper()
	var lines []string
	for line, err := range seq {
		require.NoError(t, err)
		lines = append(lines, line)
	}
	return lines
}

// =============================================================================
// LogWindow Tests
// =============================================================================

func TestLogWindow_UnknownService(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.orch.LogWindow(context.Background(), "ghost", "15m")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestLogWindow_InvalidWindow(t *testing.T) {
	h := deployed(t, Config{})

	_, err := h.orch.LogWindow(context.Background(), "web", "30m")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestLogWindow_TrailingDuration(t *testing.T) {
	h := deployed(t, Config{})
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return now }
	h.logs.lines = []string{"booting", "listening on :8080"}

	lines, err := h.orch.LogWindow(context.Background(), "web", "1h")
	require.NoError(t, err)
	assert.Equal(t, []string{"booting", "listening on :8080"}, lines)
	assert.Equal(t, now.Add(-time.Hour), h.logs.since)

	_, err = h.orch.LogWindow(context.Background(), "web", "1d")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), h.logs.since)
}

// =============================================================================
// TailLogs Tests
// =============================================================================

func TestTailLogs_UnknownService(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.orch.TailLogs(context.Background(), "ghost", false)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestTailLogs_NoFollowTerminates(t *testing.T) {
	h := deployed(t, Config{TailLines: 20})
	h.logs.lines = []string{"a", "b", "c"}

	seq, err := h.orch.TailLogs(context.Background(), "web", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, collect(t, seq))
	assert.Equal(t, 20, h.logs.tailN)
	assert.False(t, h.logs.follow)
}

func TestTailLogs_NoFollowEmpty(t *testing.T) {
	h := deployed(t, Config{})

	seq, err := h.orch.TailLogs(context.Background(), "web", false)
	require.NoError(t, err)
	assert.Empty(t, collect(t, seq))
}

func TestTailLogs_FollowStopsOnBreak(t *testing.T) {
	h := deployed(t, Config{})
	stream := newFakeStream()
	h.logs.stream = stream

	go func() {
		for _, line := range []string{"one", "two", "three"} {
			if stream.emit(line) != nil {
				return
			}
		}
	}()

	seq, err := h.orch.TailLogs(context.Background(), "web", true)
	require.NoError(t, err)

	var got []string
	for line, err := range seq {
		require.NoError(t, err)
		got = append(got, line)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"one", "two"}, got)
	assert.True(t, h.logs.follow)

	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("upstream not released after break")
	}

	// The service is untouched.
	resp, err := h.orch.GetService(context.Background(), "web")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.URL)
}

func TestTailLogs_FollowStopsOnCancel(t *testing.T) {
	h := deployed(t, Config{})
	stream := newFakeStream()
	h.logs.stream = stream

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := h.orch.TailLogs(ctx, "web", true)
	require.NoError(t, err)

	done := make(chan []string, 1)
	go func() {
		var got []string
		for line, err := range seq {
			if err != nil {
				break
			}
			got = append(got, line)
		}
		done <- got
	}()

	require.NoError(t, stream.emit("hello"))
	cancel()

	select {
	case got := <-done:
		assert.Equal(t, []string{"hello"}, got)
	case <-time.After(time.Second):
		t.Fatal("tail did not stop after cancel")
	}
	select {
	case <-stream.closed:
	default:
		t.Fatal("upstream not released after cancel")
	}
}

func TestTailLogs_IndependentStreams(t *testing.T) {
	h := deployed(t, Config{})
	h.logs.lines = []string{"x", "y"}

	a, err := h.orch.TailLogs(context.Background(), "web", false)
	require.NoError(t, err)
	b, err := h.orch.TailLogs(context.Background(), "web", false)
	require.NoError(t, err)

	assert.Equal(t, collect(t, a), collect(t, b))
}
