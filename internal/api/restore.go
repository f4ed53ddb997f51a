package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/archive"
	"github.com/tmbackup/tmserviced/internal/crypter"
	"github.com/tmbackup/tmserviced/internal/logtail"
	"github.com/tmbackup/tmserviced/internal/restore"
	"github.com/tmbackup/tmserviced/internal/statestore"
)

// RestoreHandler launches and tracks restore tasks (spec.md §4.8.1). A
// restore runs as a plain goroutine, not through the supervisor's registry
// — restores are not host-exclusive the way backups are (spec.md §3 keeps
// them in their own "restore-*" state record namespace).
type RestoreHandler struct {
	store      *statestore.Store
	backupRoot string
	logDir     string
	logger     *zap.Logger
}

// NewRestoreHandler creates a RestoreHandler.
func NewRestoreHandler(store *statestore.Store, backupRoot, logDir string, logger *zap.Logger) *RestoreHandler {
	return &RestoreHandler{store: store, backupRoot: backupRoot, logDir: logDir, logger: logger.Named("restore_handler")}
}

type restoreRequest struct {
	Snapshot          string `json:"snapshot"`
	Path              string `json:"path,omitempty"`
	Target            string `json:"target,omitempty"`
	Mode              string `json:"mode,omitempty"`
	Format            string `json:"format,omitempty"`
	Decrypt           bool   `json:"decrypt,omitempty"`
	EncryptMode       string `json:"encrypt_mode,omitempty"`
	EncryptKeyPath    string `json:"encrypt_key_path,omitempty"`
	EncryptPassphrase string `json:"encrypt_passphrase,omitempty"`
}

// Launch handles POST /api/restore/<host>.
func (h *RestoreHandler) Launch(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")

	var req restoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Snapshot == "" {
		ErrBadRequest(w, "snapshot is required")
		return
	}

	mode := restore.ModeFull
	switch req.Mode {
	case "", string(restore.ModeFull):
		mode = restore.ModeFull
	case string(restore.ModePath):
		mode = restore.ModePath
	case string(restore.ModeDBOnly):
		mode = restore.ModeDBOnly
	case string(restore.ModeArchive):
		mode = restore.ModeArchive
	default:
		ErrBadRequest(w, "unknown mode "+req.Mode)
		return
	}

	logPath := restore.NewLogPath(h.logDir, hostname)
	opts := restore.Options{
		Hostname:          hostname,
		Snapshot:          req.Snapshot,
		Path:              req.Path,
		Target:            req.Target,
		Mode:              mode,
		Format:            archive.ParseFormat(req.Format),
		BackupRoot:        h.backupRoot,
		LogDir:            h.logDir,
		LogPath:           logPath,
		Decrypt:           req.Decrypt,
		EncryptMode:       crypter.Mode(req.EncryptMode),
		EncryptKeyPath:    req.EncryptKeyPath,
		EncryptPassphrase: req.EncryptPassphrase,
	}

	id := restore.NewID()
	rec := statestore.RestoreRecord{
		ID:        id,
		Hostname:  hostname,
		Snapshot:  req.Snapshot,
		Path:      req.Path,
		Target:    req.Target,
		Mode:      string(mode),
		Format:    string(opts.Format),
		PID:       0,
		StartedAt: time.Now().UTC(),
		Status:    statestore.StatusRunning,
		LogFile:   logPath,
	}
	if err := h.store.PutRestore(rec); err != nil {
		h.logger.Error("failed to persist restore record", zap.Error(err))
		ErrInternal(w)
		return
	}

	go func() {
		res := restore.Run(context.Background(), id, opts)
		rec.EndedAt = time.Now().UTC()
		if res.Success {
			rec.Status = statestore.StatusCompleted
		} else {
			rec.Status = statestore.StatusFailed
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}
		}
		if err := h.store.PutRestore(rec); err != nil {
			h.logger.Error("failed to persist final restore record", zap.String("id", id), zap.Error(err))
		}
	}()

	Created(w, envelope{"pid": 0, "logfile": rec.LogFile})
}

type restoreResponse struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	Snapshot  string `json:"snapshot"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	LogFile   string `json:"logfile"`
	StartedAt string `json:"started_at"`
	Error     string `json:"error,omitempty"`
}

func restoreToResponse(r statestore.RestoreRecord) restoreResponse {
	return restoreResponse{
		ID:        r.ID,
		Hostname:  r.Hostname,
		Snapshot:  r.Snapshot,
		Mode:      r.Mode,
		Status:    string(r.Status),
		LogFile:   r.LogFile,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		Error:     r.Error,
	}
}

// List handles GET /api/restores.
func (h *RestoreHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRestores()
	if err != nil {
		h.logger.Error("failed to list restores", zap.Error(err))
		ErrInternal(w)
		return
	}
	out := make([]restoreResponse, len(records))
	for i, rec := range records {
		out[i] = restoreToResponse(rec)
	}
	Ok(w, out)
}

// Log handles GET /api/restore-log/<name>.
func (h *RestoreHandler) Log(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := logtail.Path(h.logDir, name)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	tail, err := logtail.Tail(path, 500)
	if err != nil {
		h.logger.Error("failed to tail restore log", zap.String("name", name), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"log": tail, "running": false})
}

// Delete handles DELETE /api/restore/<id>.
func (h *RestoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetRestoreByID(id)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			ErrNotFound(w, "no such restore task")
			return
		}
		h.logger.Error("failed to look up restore", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	if rec.Status == statestore.StatusRunning {
		ErrConflict(w, "restore task is still running")
		return
	}
	if err := h.store.DeleteRestore(rec.Hostname, rec.ID); err != nil {
		h.logger.Error("failed to delete restore record", zap.String("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// DeleteAll handles DELETE /api/restores, clearing every terminal record.
func (h *RestoreHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTerminalRestores(); err != nil {
		h.logger.Error("failed to clear restores", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
