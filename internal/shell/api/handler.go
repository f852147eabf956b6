// Package api provides HTTP handlers for the Nucleus API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/artpar/nucleus/internal/shell/api/middleware"
)

// DefaultMaxBodyBytes caps the size of a deploy request body.
const DefaultMaxBodyBytes = 1 << 20

// Services is the set of operations the API exposes.
type Services interface {
	Deploy(ctx context.Context, spec domain.ServiceSpec) (domain.ServiceResponse, error)
	ListServices(ctx context.Context) ([]string, error)
	GetService(ctx context.Context, name string) (domain.ServiceResponse, error)
	DescribeService(ctx context.Context, name string) (*domain.DeploymentRecord, error)
	LogWindow(ctx context.Context, name, window string) ([]string, error)
	TailLogs(ctx context.Context, name string, follow bool) (iter.Seq2[string, error], error)
}

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Config configures the handler.
type Config struct {
	// APIToken, when set, must be presented as a bearer token on /api/v1.
	APIToken     string
	MaxBodyBytes int64
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	services Services
	config   Config
	checks   map[string]ReadyCheck
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s Services, cfg Config, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		services: s,
		config:   cfg,
		checks:   make(map[string]ReadyCheck),
		logger:   l.With("component", "api"),
	}
}

// AddReadyCheck registers a dependency checked by /ready.
func (h *Handler) AddReadyCheck(name string, check ReadyCheck) {
	h.checks[name] = check
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewTokenAuth(middleware.TokenConfig{
			Token:  h.config.APIToken,
			Logger: h.logger,
		}).Handler)

		r.Route("/services", func(r chi.Router) {
			r.Post("/", h.handleDeploy)
			r.Get("/", h.handleListServices)
			r.Get("/{name}", h.handleGetService)
			r.Get("/{name}/status", h.handleDescribeService)
			r.Get("/{name}/logs", h.handleLogWindow)
			r.Get("/{name}/logs/tail", h.handleTailLogs)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	ready := true

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "failed"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Service Handlers
// =============================================================================

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	var spec domain.ServiceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, domain.KindValidation, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid JSON: "+err.Error())
		return
	}

	resp, err := h.services.Deploy(r.Context(), spec)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("service deployed",
		"service", spec.Name,
		"url", resp.URL,
		"caller", middleware.CallerFromContext(r.Context()),
		"request_id", chimw.GetReqID(r.Context()),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	names, err := h.services.ListServices(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, http.StatusOK, ServiceListResponse{Services: names})
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	resp, err := h.services.GetService(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDescribeService(w http.ResponseWriter, r *http.Request) {
	rec, err := h.services.DescribeService(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// Log Handlers
// =============================================================================

func (h *Handler) handleLogWindow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	window := r.URL.Query().Get("window")

	lines, err := h.services.LogWindow(r.Context(), name, window)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	h.writeJSON(w, http.StatusOK, LogWindowResponse{Service: name, Window: window, Lines: lines})
}

func (h *Handler) handleTailLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	follow := false
	if v := r.URL.Query().Get("follow"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.KindValidation, "follow must be a boolean")
			return
		}
		follow = parsed
	}

	lines, err := h.services.TailLogs(r.Context(), name, follow)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	// A followed stream outlives any server write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for line, err := range lines {
		if err != nil {
			h.logger.Warn("log tail ended with error", "service", name, "error", err)
			return
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindSecretsResolution:
		return http.StatusFailedDependency
	case domain.KindBuild:
		return http.StatusUnprocessableEntity
	case domain.KindProvisioning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Kind: string(kind), Message: message}})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	h.writeError(w, StatusFor(kind), kind, err.Error())
}
