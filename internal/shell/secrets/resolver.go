// Package secrets resolves a service's secrets reference into plaintext
// environment values.
//
// Each SecretsRef variant has its own Backend, selected by the reference's
// type tag. Resolved values live only in the caller's memory: nothing in this
// package logs, caches or persists them.
package secrets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/nucleus/internal/core/domain"
)

// Backend resolves one variant of domain.SecretsRef.
type Backend interface {
	Resolve(ctx context.Context, ref domain.SecretsRef) (map[string]string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, ref domain.SecretsRef) (map[string]string, error)

// Resolve calls f.
func (f BackendFunc) Resolve(ctx context.Context, ref domain.SecretsRef) (map[string]string, error) {
	return f(ctx, ref)
}

// Resolver dispatches a secrets reference to the backend registered for its
// type.
type Resolver struct {
	backends map[domain.SecretsType]Backend
	logger   *slog.Logger
}

// NewResolver creates a resolver over the given backends.
func NewResolver(backends map[domain.SecretsType]Backend, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	b := make(map[domain.SecretsType]Backend, len(backends))
	for t, backend := range backends {
		if backend != nil {
			b[t] = backend
		}
	}
	return &Resolver{
		backends: b,
		logger:   logger.With("component", "secrets"),
	}
}

// Resolve returns the plaintext values referenced by ref. A nil ref resolves
// to an empty map. Every failure is a secrets resolution error carrying the
// backend's cause.
func (r *Resolver) Resolve(ctx context.Context, ref *domain.SecretsRef) (map[string]string, error) {
	if ref == nil {
		return map[string]string{}, nil
	}

	backend, ok := r.backends[ref.Type]
	if !ok {
		return nil, resolutionError(ref.Type, fmt.Sprintf("no backend configured for %q", ref.Type), nil)
	}

	values, err := backend.Resolve(ctx, *ref)
	if err != nil {
		r.logger.Warn("secrets resolution failed", "type", ref.Type, "error", err)
		if domain.IsKind(err, domain.KindSecretsResolution) {
			return nil, err
		}
		return nil, resolutionError(ref.Type, "", err)
	}
	if values == nil {
		values = map[string]string{}
	}

	r.logger.Debug("secrets resolved", "type", ref.Type, "keys", len(values))
	return values, nil
}

// Types returns the secrets types this resolver can handle.
func (r *Resolver) Types() []domain.SecretsType {
	types := make([]domain.SecretsType, 0, len(r.backends))
	for t := range r.backends {
		types = append(types, t)
	}
	return types
}

func resolutionError(t domain.SecretsType, message string, err error) *domain.Error {
	if message == "" {
		message = string(t)
	} else {
		message = fmt.Sprintf("%s: %s", t, message)
	}
	return domain.NewError(domain.KindSecretsResolution, "ResolveSecrets", message, err)
}
