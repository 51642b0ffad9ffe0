package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pinger is the health slice every backend adapter exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readinessTimeout bounds each backend ping so one hung dependency cannot
// stall the whole check.
const readinessTimeout = 2 * time.Second

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates the handler over the named backends.
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

type readyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Healthz reports process liveness only; it never touches a backend.
func (h *HealthHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every backend concurrently with a short deadline and reports
// each verdict. Any failing dependency degrades the whole endpoint to 503.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu       sync.Mutex
		statuses = make(map[string]string, len(h.deps))
		g        errgroup.Group
	)

	for name, dep := range h.deps {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			verdict := "ok"
			err := dep.Ping(ctx)
			if err != nil {
				verdict = err.Error()
			}

			mu.Lock()
			statuses[name] = verdict
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		respondJSON(h.logger, w, http.StatusServiceUnavailable, readyResponse{
			Status:       "degraded",
			Dependencies: statuses,
		})
		return
	}
	respondJSON(h.logger, w, http.StatusOK, readyResponse{
		Status:       "ready",
		Dependencies: statuses,
	})
}
