package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check reports the state of one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness plus the state of its dependencies.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler. checks may be empty.
func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, logger: logger}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ServeHTTP runs every check in parallel. Failure detail goes to the log only;
// the response names the failing dependency and nothing more.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			state := "ok"
			if err := check(ctx); err != nil {
				h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				state = "error"
			}
			mu.Lock()
			resp.Checks[name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, state := range resp.Checks {
		if state != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	render.Status(r, status)
	render.JSON(w, r, &resp)
}
