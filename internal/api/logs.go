package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/logtail"
	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
)

// LogsHandler tails the newest job/rsync log for a host (spec.md §4.8).
type LogsHandler struct {
	logDir string
	sup    *supervisor.Supervisor
	logger *zap.Logger
}

// NewLogsHandler creates a LogsHandler.
func NewLogsHandler(logDir string, sup *supervisor.Supervisor, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{logDir: logDir, sup: sup, logger: logger.Named("logs_handler")}
}

type logsResponse struct {
	Running bool             `json:"running"`
	Tail    string           `json:"tail"`
	Logs    []logtail.Entry  `json:"logs"`
}

// ForHost handles GET /api/logs/<host>.
func (h *LogsHandler) ForHost(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")

	entries, err := logtail.ListForHost(h.logDir, hostname)
	if err != nil {
		h.logger.Error("failed to list logs", zap.String("hostname", hostname), zap.Error(err))
		ErrInternal(w)
		return
	}

	newest, ok := logtail.Newest(entries)
	var tail string
	if ok {
		path, err := logtail.Path(h.logDir, newest.Name)
		if err == nil {
			tail, _ = logtail.Tail(path, 500)
		}
	}

	running := false
	if rec, err := h.sup.Observe(hostname); err == nil {
		running = rec.Status == statestore.StatusRunning
	}

	Ok(w, logsResponse{Running: running, Tail: tail, Logs: entries})
}
