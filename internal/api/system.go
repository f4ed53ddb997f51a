package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/sysinfo"
)

// SystemHandler serves host resource metrics (spec.md §4.8).
type SystemHandler struct {
	logger *zap.Logger
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(logger *zap.Logger) *SystemHandler {
	return &SystemHandler{logger: logger.Named("system_handler")}
}

// Get handles GET /api/system.
func (h *SystemHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := sysinfo.Collect(r.Context())
	if err != nil {
		h.logger.Error("failed to collect system info", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, snap)
}
