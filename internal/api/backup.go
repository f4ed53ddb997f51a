package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/roster"
	"github.com/tmbackup/tmserviced/internal/scheduler"
	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
)

// BackupHandler launches and cancels ad-hoc backup jobs (spec.md §4.8,
// §4.6). It builds the same pipeline.Options the scheduler builds for a
// scheduled run, via the shared scheduler.Template.ForHost, so a manually
// triggered backup behaves identically to a scheduled one.
type BackupHandler struct {
	sup        *supervisor.Supervisor
	store      *statestore.Store
	rosterPath string
	template   scheduler.Template
	logger     *zap.Logger
}

// NewBackupHandler creates a BackupHandler.
func NewBackupHandler(sup *supervisor.Supervisor, store *statestore.Store, rosterPath string, template scheduler.Template, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{sup: sup, store: store, rosterPath: rosterPath, template: template, logger: logger.Named("backup_handler")}
}

// Launch handles POST /api/backup/<host>. Query params files-only/db-only
// override the roster entry's mode for this run only.
func (h *BackupHandler) Launch(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")

	entry, err := roster.Get(h.rosterPath, hostname)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			ErrNotFound(w, "unknown host "+hostname)
			return
		}
		h.logger.Error("failed to read roster", zap.Error(err))
		ErrInternal(w)
		return
	}

	if r.URL.Query().Has("files-only") {
		entry.Mode = roster.ModeFilesOnly
	} else if r.URL.Query().Has("db-only") {
		entry.Mode = roster.ModeDBOnly
	}

	opts := h.template.ForHost(hostname, entry)

	if err := h.sup.Launch(context.Background(), opts, statestore.TriggerAPI); err != nil {
		if errors.Is(err, supervisor.ErrConflict) {
			ErrConflict(w, hostname+" already has a running job")
			return
		}
		h.logger.Error("failed to launch backup", zap.String("hostname", hostname), zap.Error(err))
		ErrInternal(w)
		return
	}

	rec, err := h.store.GetProc(hostname)
	pid := 0
	if err == nil {
		pid = rec.PID
	}
	Created(w, envelope{"pid": pid})
}

// Cancel handles DELETE /api/backup/<host>.
func (h *BackupHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")

	if err := h.sup.Cancel(hostname); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			ErrNotFound(w, hostname+" is not running")
			return
		}
		h.logger.Error("failed to cancel backup", zap.String("hostname", hostname), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
