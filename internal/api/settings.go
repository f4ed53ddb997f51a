package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/config"
	"github.com/tmbackup/tmserviced/internal/statestore"
)

// SettingsHandler reads and rewrites the daemon's environment-file
// configuration (spec.md §4.8, §6). A write marks `.reload_config` so the
// scheduler's reload gate picks the change up on its next tick instead of
// requiring a daemon restart.
type SettingsHandler struct {
	cfg        *config.Config
	configPath string
	store      *statestore.Store
	logger     *zap.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(cfg *config.Config, configPath string, store *statestore.Store, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{cfg: cfg, configPath: configPath, store: store, logger: logger.Named("settings_handler")}
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.cfg.AsMap())
}

// Put handles PUT /api/settings: merges the supplied keys into the
// environment file and marks a reload. Unknown keys are preserved verbatim
// in the file by config.WriteEnvFile but have no effect on the running
// Config until the process recognizes them.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var vals map[string]string
	if !decodeJSON(w, r, &vals) {
		return
	}

	if err := config.WriteEnvFile(h.configPath, vals); err != nil {
		h.logger.Error("failed to write settings", zap.Error(err))
		ErrInternal(w)
		return
	}

	reloaded, err := config.Load(h.configPath)
	if err != nil {
		ErrUnprocessable(w, err.Error())
		return
	}
	*h.cfg = *reloaded

	if err := h.store.MarkReload(); err != nil {
		h.logger.Error("failed to mark reload", zap.Error(err))
	}

	Ok(w, h.cfg.AsMap())
}
