package handlers

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/otp"
)

// AdminHandler exposes the sweeper to operators.
type AdminHandler struct {
	sweeper *otp.Sweeper
	logger  *zap.Logger
}

func NewAdminHandler(sweeper *otp.Sweeper, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, logger: logger}
}

// HandleSweep handles POST /admin/otp/sweep
func (h *AdminHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, "internal_error", "sweep failed")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, &report)
}

// HandleStats handles GET /admin/otp/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sweeper.Stats(r.Context())
	if err != nil {
		h.logger.Error("loading code stats failed", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, "internal_error", "could not load stats")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, &stats)
}
