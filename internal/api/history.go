package api

import (
	"net/http"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/logtail"
	"github.com/tmbackup/tmserviced/internal/roster"
	"github.com/tmbackup/tmserviced/internal/transport"
)

// HistoryHandler summarizes each host's backup history (spec.md §4.8),
// derived straight from the snapshot tree and log tails — there is no
// separate history store.
type HistoryHandler struct {
	backupRoot string
	logDir     string
	rosterPath string
	logger     *zap.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(backupRoot, logDir, rosterPath string, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{backupRoot: backupRoot, logDir: logDir, rosterPath: rosterPath, logger: logger.Named("history_handler")}
}

type historyEntry struct {
	Hostname   string `json:"hostname"`
	LastBackup string `json:"last_backup"`
	Snapshots  int    `json:"snapshots"`
	TotalSize  int64  `json:"total_size"`
	Status     string `json:"status"`
}

// List handles GET /api/history.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ros, err := roster.Read(h.rosterPath)
	if err != nil {
		h.logger.Error("failed to read roster", zap.Error(err))
		ErrInternal(w)
		return
	}

	out := make([]historyEntry, 0, len(ros.Entries))
	for _, e := range ros.Entries {
		hostRoot := filepath.Join(h.backupRoot, e.Hostname)

		dirs, err := transport.ListSnapshotDirs(hostRoot)
		if err != nil {
			continue
		}
		sort.Strings(dirs)

		count, _ := transport.UniqueDateCount(hostRoot)
		size, _ := transport.DirSize(hostRoot)

		lastBackup := ""
		if len(dirs) > 0 {
			lastBackup = dirs[len(dirs)-1]
		}

		status := "unknown"
		if entries, err := logtail.ListForHost(h.logDir, e.Hostname); err == nil {
			if newest, ok := logtail.Newest(entries); ok {
				if path, err := logtail.Path(h.logDir, newest.Name); err == nil {
					if tail, err := logtail.Tail(path, 500); err == nil {
						status = "ok"
						if containsFailureMarker(tail) {
							status = "failed"
						}
					}
				}
			}
		}

		out = append(out, historyEntry{
			Hostname:   e.Hostname,
			LastBackup: lastBackup,
			Snapshots:  count,
			TotalSize:  size,
			Status:     status,
		})
	}

	Ok(w, out)
}
