package api

// =============================================================================
// Response Types
// =============================================================================

// ServiceListResponse is the response for listing services.
type ServiceListResponse struct {
	Services []string `json:"services"`
}

// LogWindowResponse is the response for a log window query.
type LogWindowResponse struct {
	Service string   `json:"service"`
	Window  string   `json:"window"`
	Lines   []string `json:"lines"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// =============================================================================
// Error Types
// =============================================================================

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse is the response for errors.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
