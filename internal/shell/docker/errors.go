package docker

import (
	"errors"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/artpar/nucleus/internal/core/domain"
)

var (
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")
	ErrContainerNotRunning    = errors.New("container is not running")
	ErrContainerExited        = errors.New("container exited after start")
	ErrContainerUnhealthy     = errors.New("container unhealthy after start")
	ErrNoContainer            = errors.New("service has no container")

	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")
	ErrBuildFailed     = errors.New("image build failed")

	ErrConnectionFailed = errors.New("docker engine unreachable")
)

// DockerError is an engine failure on one object: a container, image or
// network, named by Ref.
type DockerError struct {
	Op      string
	Ref     string
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.Ref == "" {
		return e.Op + ": " + e.Message
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Ref, e.Message)
}

func (e *DockerError) Unwrap() error { return e.Err }

// NewDockerError creates a DockerError.
func NewDockerError(op, ref, message string, err error) *DockerError {
	return &DockerError{Op: op, Ref: ref, Message: message, Err: err}
}

// engineError classifies an error returned by the Docker SDK. Not-found and
// conflict responses map to the package sentinels; everything else keeps the
// SDK error so errdefs checks still apply.
func engineError(op, ref string, err error, notFound error) *DockerError {
	switch {
	case cerrdefs.IsNotFound(err) && notFound != nil:
		return NewDockerError(op, ref, notFound.Error(), notFound)
	case cerrdefs.IsConflict(err) && op == "create":
		return NewDockerError(op, ref, "name in use", ErrContainerAlreadyExists)
	case strings.Contains(err.Error(), "is not running"):
		return NewDockerError(op, ref, "not running", ErrContainerNotRunning)
	}
	return NewDockerError(op, ref, err.Error(), err)
}

// isTransient reports whether a scheduling failure may succeed on retry.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrImagePullFailed),
		errors.Is(err, ErrContainerAlreadyExists):
		return true
	case cerrdefs.IsUnavailable(err),
		cerrdefs.IsResourceExhausted(err),
		cerrdefs.IsDeadlineExceeded(err),
		cerrdefs.IsConflict(err):
		return true
	}
	return false
}

// markTransient tags err with domain.ErrTransient when a retry may help.
func markTransient(err error) error {
	if err == nil || !isTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
