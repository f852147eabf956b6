package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/nucleus/internal/core/artifact"
	"github.com/artpar/nucleus/internal/core/deployment"
)

// =============================================================================
// Builder - Builds Images From Source Trees
// =============================================================================

// GeneratedDockerfile is the path of the synthesized Dockerfile inside the
// build context. It does not shadow a Dockerfile the source tree carries.
const GeneratedDockerfile = ".nucleus.Dockerfile"

// diagnosticLimit caps how much build output is kept for error reports.
const diagnosticLimit = 8 << 10

// skippedDirs are never sent to the daemon.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// Builder builds service images with the Docker daemon.
type Builder struct {
	docker Client
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(docker Client, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		docker: docker,
		logger: logger.With("component", "builder"),
	}
}

// Build builds the plan's source directory and returns the image tag.
// The returned error carries the tail of the build output.
func (b *Builder) Build(ctx context.Context, req deployment.BuildRequest) (string, error) {
	plan := req.Plan
	tag := req.Tag()
	logger := b.logger.With("service", req.Service, "attempt_id", req.AttemptID, "runtime", plan.Runtime)

	info, err := os.Stat(plan.Directory)
	if err != nil {
		return "", NewDockerError("build", tag, "read build directory", err)
	}
	if !info.IsDir() {
		return "", NewDockerError("build", tag, plan.Directory+" is not a directory", ErrBuildFailed)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeBuildContext(pw, plan.Directory, artifact.Dockerfile(plan)))
	}()
	defer pr.Close()

	output := newTailBuffer(diagnosticLimit)
	start := time.Now()
	logger.Info("building image", "tag", tag)

	err = b.docker.BuildImage(ctx, BuildOptions{
		Context:    pr,
		Dockerfile: GeneratedDockerfile,
		Tag:        tag,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelService: req.Service,
			LabelAttempt: req.AttemptID,
		},
		Output: output,
	})
	if err != nil {
		logger.Warn("build failed", "tag", tag, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("%w\n%s", err, output.String())
	}

	logger.Info("built image", "tag", tag, "duration", time.Since(start))
	return tag, nil
}

// writeBuildContext streams dir as a tar archive with the generated
// Dockerfile added at its root.
func writeBuildContext(w io.Writer, dir, dockerfile string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if rel == GeneratedDockerfile {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    GeneratedDockerfile,
		Mode:    0o644,
		Size:    int64(len(dockerfile)),
		ModTime: time.Now(),
	}); err != nil {
		return err
	}
	if _, err := io.WriteString(tw, dockerfile); err != nil {
		return err
	}
	return tw.Close()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   bytes.Buffer
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > t.limit {
		p = p[len(p)-t.limit:]
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
