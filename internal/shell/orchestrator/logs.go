package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"iter"

	"github.com/artpar/nucleus/internal/core/domain"
)

// maxLineLength bounds a single log line; longer lines end the stream with
// an error.
const maxLineLength = 1 << 20

// LogWindow returns the lines a service emitted within the trailing window,
// oldest first. Each call reads afresh; results of repeated calls may
// overlap.
func (o *Orchestrator) LogWindow(ctx context.Context, name, window string) ([]string, error) {
	if _, err := o.registry.Get(ctx, name); err != nil {
		return nil, err
	}
	w, err := domain.ParseLogWindow(window)
	if err != nil {
		return nil, err
	}

	lines, err := o.logs.Fetch(ctx, name, o.now().Add(-w.Duration()))
	if err != nil {
		return nil, fmt.Errorf("fetch logs for %s: %w", name, err)
	}
	return lines, nil
}

// TailLogs returns a lazy sequence of log lines. The service must exist;
// the upstream is only opened once the sequence is ranged over.
//
// Without follow the sequence holds the most recent buffered lines and
// ends. With follow it continues with live output until the consumer stops
// ranging or ctx is cancelled, either of which closes the upstream. The
// service itself is never touched.
func (o *Orchestrator) TailLogs(ctx context.Context, name string, follow bool) (iter.Seq2[string, error], error) {
	if _, err := o.registry.Get(ctx, name); err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.logs.Tail(ctx, name, o.config.TailLines, follow)
		if err != nil {
			yield("", fmt.Errorf("open log tail for %s: %w", name, err))
			return
		}
		stop := context.AfterFunc(ctx, func() { stream.Close() })
		defer func() {
			stop()
			stream.Close()
		}()

		sc := bufio.NewScanner(stream)
		sc.Buffer(make([]byte, 64<<10), maxLineLength)
		for sc.Scan() {
			if !yield(sc.Text(), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			yield("", fmt.Errorf("read log tail for %s: %w", name, err))
		}
	}, nil
}
