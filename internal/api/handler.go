// Package api serves the operational HTTP surface: the health endpoint the
// orchestrator probes and the request plumbing around it. All user-facing
// traffic goes through Telegram, not here.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Checker reports whether one dependency is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context) error

// Health implements Checker.
func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler holds the registered dependency checks.
type Handler struct {
	logger *zap.Logger
	names  []string
	checks map[string]Checker
}

// NewHandler creates an API handler with no checks registered.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
		checks: make(map[string]Checker),
	}
}

// AddCheck registers a dependency under the given name in the health report.
func (h *Handler) AddCheck(name string, checker Checker) {
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
	}
	h.checks[name] = checker
}

// Health handles GET /health. Any failing dependency flips the status to
// degraded and the response code to 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, name := range h.names {
		if err := h.checks[name].Health(ctx); err != nil {
			h.logger.Warn("health check failed",
				zap.String("check", name),
				zap.Error(err),
			)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", zap.Error(err))
	}
}
