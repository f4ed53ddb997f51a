package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/roster"
	"github.com/tmbackup/tmserviced/internal/statestore"
)

// ServerHandler manages the active and archived server rosters (spec.md
// §4.8, §4.1). Every call re-reads the roster file from disk, the same
// no-cache discipline internal/roster itself follows.
type ServerHandler struct {
	store       *statestore.Store
	rosterPath  string
	archivePath string
	backupRoot  string
	logger      *zap.Logger
}

// NewServerHandler creates a ServerHandler.
func NewServerHandler(store *statestore.Store, rosterPath, archivePath, backupRoot string, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{store: store, rosterPath: rosterPath, archivePath: archivePath, backupRoot: backupRoot, logger: logger.Named("server_handler")}
}

type serverResponse struct {
	Hostname    string   `json:"hostname"`
	Priority    int      `json:"priority"`
	DBInterval  int      `json:"db_interval"`
	Mode        string   `json:"mode"`
	Rotate      bool     `json:"rotate"`
	NotifyEmail string   `json:"notify_email,omitempty"`
	NotifyOK    bool     `json:"notify_ok"`
	Extra       []string `json:"extra,omitempty"`
}

func serverToResponse(e roster.Entry) serverResponse {
	return serverResponse{
		Hostname:    e.Hostname,
		Priority:    e.Priority,
		DBInterval:  e.DBIntervalHours,
		Mode:        string(e.Mode),
		Rotate:      e.Rotate,
		NotifyEmail: e.NotifyEmail,
		NotifyOK:    e.NotifyOK,
		Extra:       e.Extra,
	}
}

// List handles GET /api/servers.
func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	ros, err := roster.Read(h.rosterPath)
	if err != nil {
		h.logger.Error("failed to read roster", zap.Error(err))
		ErrInternal(w)
		return
	}
	sorted := roster.SortedByPriority(ros.Entries)
	out := make([]serverResponse, len(sorted))
	for i, e := range sorted {
		out[i] = serverToResponse(e)
	}
	Ok(w, out)
}

type serverCreateRequest struct {
	Hostname string `json:"hostname"`
	Options  string `json:"options,omitempty"`
}

// Create handles POST /api/servers.
func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serverCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hostname == "" {
		ErrBadRequest(w, "hostname is required")
		return
	}

	line := req.Hostname
	if req.Options != "" {
		line += " " + req.Options
	}
	entry, err := roster.Parse(line)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	if err := roster.Append(h.rosterPath, entry); err != nil {
		if errors.Is(err, roster.ErrConflict) {
			ErrConflict(w, req.Hostname+" already exists")
			return
		}
		h.logger.Error("failed to append roster entry", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, serverToResponse(entry))
}

type serverUpdateRequest struct {
	Priority    *int    `json:"priority,omitempty"`
	DBInterval  *int    `json:"db_interval,omitempty"`
	Mode        *string `json:"mode,omitempty"`
	NoRotate    *bool   `json:"no_rotate,omitempty"`
	NotifyEmail *string `json:"notify_email,omitempty"`
}

// Update handles PUT /api/servers/<host>.
func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")

	existing, err := roster.Get(h.rosterPath, hostname)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			ErrNotFound(w, "unknown host "+hostname)
			return
		}
		h.logger.Error("failed to read roster entry", zap.Error(err))
		ErrInternal(w)
		return
	}

	var req serverUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Priority != nil {
		existing.Priority = *req.Priority
	}
	if req.DBInterval != nil {
		existing.DBIntervalHours = *req.DBInterval
	}
	if req.Mode != nil {
		existing.Mode = roster.Mode(*req.Mode)
	}
	if req.NoRotate != nil {
		existing.Rotate = !*req.NoRotate
	}
	if req.NotifyEmail != nil {
		existing.NotifyEmail = *req.NotifyEmail
	}

	if err := roster.Update(h.rosterPath, existing); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			ErrNotFound(w, "unknown host "+hostname)
			return
		}
		h.logger.Error("failed to update roster entry", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, serverToResponse(existing))
}

// Delete handles DELETE /api/servers/<host>?action=archive|delete.
func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	action := r.URL.Query().Get("action")

	switch action {
	case "archive":
		if err := roster.Archive(h.rosterPath, h.archivePath, hostname); err != nil {
			if errors.Is(err, roster.ErrNotFound) {
				ErrNotFound(w, "unknown host "+hostname)
				return
			}
			h.logger.Error("failed to archive host", zap.Error(err))
			ErrInternal(w)
			return
		}
		Ok(w, envelope{"status": "archived"})

	case "delete", "":
		if err := roster.Remove(h.rosterPath, hostname); err != nil && !errors.Is(err, roster.ErrNotFound) {
			h.logger.Error("failed to remove host", zap.Error(err))
			ErrInternal(w)
			return
		}
		roster.Remove(h.archivePath, hostname)
		h.startDelete(hostname)
		Ok(w, envelope{"status": "deleting"})

	default:
		ErrBadRequest(w, "action must be \"archive\" or \"delete\"")
	}
}

// startDelete records a running delete task and removes the host's
// snapshot directory in the background, matching the teacher's goroutine
// idiom for long-running I/O triggered from a request handler.
func (h *ServerHandler) startDelete(hostname string) {
	rec := statestore.DeleteRecord{Hostname: hostname, StartedAt: time.Now().UTC(), Status: statestore.StatusRunning}
	if err := h.store.PutDelete(rec); err != nil {
		h.logger.Error("failed to persist delete record", zap.String("hostname", hostname), zap.Error(err))
		return
	}

	go func() {
		err := os.RemoveAll(filepath.Join(h.backupRoot, hostname))
		rec.EndedAt = time.Now().UTC()
		if err != nil {
			rec.Status = statestore.StatusFailed
			rec.Error = err.Error()
		} else {
			rec.Status = statestore.StatusCompleted
		}
		if err := h.store.PutDelete(rec); err != nil {
			h.logger.Error("failed to persist final delete record", zap.String("hostname", hostname), zap.Error(err))
		}
	}()
}

type archivedResponse struct {
	Servers []serverResponse          `json:"servers"`
	Deletes []statestore.DeleteRecord `json:"deletes"`
}

// ListArchived handles GET /api/archived.
func (h *ServerHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	ros, err := roster.Read(h.archivePath)
	if err != nil {
		h.logger.Error("failed to read archive roster", zap.Error(err))
		ErrInternal(w)
		return
	}
	deletes, err := h.store.ListDeletes()
	if err != nil {
		h.logger.Error("failed to list delete records", zap.Error(err))
		ErrInternal(w)
		return
	}
	servers := make([]serverResponse, len(ros.Entries))
	for i, e := range ros.Entries {
		servers[i] = serverToResponse(e)
	}
	Ok(w, archivedResponse{Servers: servers, Deletes: deletes})
}

// Unarchive handles POST /api/archived/<host>/unarchive.
func (h *ServerHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	if err := roster.Unarchive(h.rosterPath, h.archivePath, hostname); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			ErrNotFound(w, hostname+" is not archived")
			return
		}
		h.logger.Error("failed to unarchive host", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"status": "unarchived"})
}

// DeleteArchived handles DELETE /api/archived/<host>: removes the archive
// entry and purges the snapshot directory.
func (h *ServerHandler) DeleteArchived(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	if err := roster.Remove(h.archivePath, hostname); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			ErrNotFound(w, hostname+" is not archived")
			return
		}
		h.logger.Error("failed to remove archived host", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.startDelete(hostname)
	Ok(w, envelope{"status": "deleting"})
}
