package api

import (
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
)

// StatusHandler serves the daemon-wide status and process-list routes.
type StatusHandler struct {
	sup       *supervisor.Supervisor
	version   string
	startedAt time.Time
	logger    *zap.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(sup *supervisor.Supervisor, version string, startedAt time.Time, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{sup: sup, version: version, startedAt: startedAt, logger: logger.Named("status_handler")}
}

type processResponse struct {
	Hostname  string `json:"hostname"`
	Mode      string `json:"mode"`
	StartedAt string `json:"started_at"`
	Status    string `json:"status"`
	LogFile   string `json:"logfile"`
	Trigger   string `json:"trigger"`
}

func processToResponse(r statestore.ProcRecord) processResponse {
	return processResponse{
		Hostname:  r.Hostname,
		Mode:      r.Mode,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		Status:    string(r.Status),
		LogFile:   filepath.Base(r.LogFile),
		Trigger:   string(r.Trigger),
	}
}

// Status handles GET /api/status. Calling Supervisor.List reconciles any
// dead-PID "running" records as a side effect, per spec.md §4.8.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	records, err := h.sup.List()
	if err != nil {
		h.logger.Error("failed to list process records", zap.Error(err))
		ErrInternal(w)
		return
	}

	procs := make([]processResponse, len(records))
	for i, rec := range records {
		procs[i] = processToResponse(rec)
	}

	Ok(w, envelope{
		"status":    "ok",
		"uptime":    int64(time.Since(h.startedAt).Seconds()),
		"hostname":  hostnameOf(),
		"version":   h.version,
		"processes": procs,
	})
}

// Processes handles GET /api/processes.
func (h *StatusHandler) Processes(w http.ResponseWriter, r *http.Request) {
	records, err := h.sup.List()
	if err != nil {
		h.logger.Error("failed to list process records", zap.Error(err))
		ErrInternal(w)
		return
	}
	procs := make([]processResponse, len(records))
	for i, rec := range records {
		procs[i] = processToResponse(rec)
	}
	Ok(w, procs)
}
