package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/archive"
	"github.com/tmbackup/tmserviced/internal/transport"
)

// SnapshotHandler serves the snapshot listing, browsing, and download
// routes (spec.md §4.8). It reads the backup tree directly — there is no
// cached index, the same "filesystem is the source of truth" discipline
// internal/roster and internal/transport follow.
type SnapshotHandler struct {
	backupRoot string
	logger     *zap.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(backupRoot string, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{backupRoot: backupRoot, logger: logger.Named("snapshot_handler")}
}

type snapshotResponse struct {
	Date     string `json:"date"`
	Size     int64  `json:"size"`
	HasFiles bool   `json:"has_files"`
	HasDB    bool   `json:"has_db"`
}

// List handles GET /api/snapshots/<host>: every snapshot directory from
// the last three calendar months, newest first.
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	hostRoot := filepath.Join(h.backupRoot, hostname)

	entries, err := os.ReadDir(hostRoot)
	if err != nil {
		if os.IsNotExist(err) {
			Ok(w, []snapshotResponse{})
			return
		}
		h.logger.Error("failed to list snapshots", zap.String("hostname", hostname), zap.Error(err))
		ErrInternal(w)
		return
	}

	cutoff := threeMonthsAgo(time.Now())

	var out []snapshotResponse
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) < 10 {
			continue
		}
		dateKey := strings.TrimPrefix(e.Name(), "daily.")
		if len(dateKey) < 10 || dateKey[:7] < cutoff {
			continue
		}

		dir := filepath.Join(hostRoot, e.Name())
		size, err := transport.DirSize(dir)
		if err != nil {
			continue
		}
		_, filesErr := os.Stat(filepath.Join(dir, "files"))
		_, sqlErr := os.Stat(filepath.Join(dir, "sql"))

		out = append(out, snapshotResponse{
			Date:     e.Name(),
			Size:     size,
			HasFiles: filesErr == nil,
			HasDB:    sqlErr == nil,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	Ok(w, out)
}

// threeMonthsAgo returns the "YYYY-MM" key of the earliest calendar month
// still in scope: the current month plus the two preceding it.
func threeMonthsAgo(now time.Time) string {
	return time.Date(now.Year(), now.Month()-2, 1, 0, 0, 0, 0, now.Location()).Format("2006-01")
}

type browseEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "dir"
	Size int64  `json:"size"`
}

// Browse handles GET /api/browse/<host>/<date>/<path>: lists the direct
// children of the resolved snapshot path, one level deep.
func (h *SnapshotHandler) Browse(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	date := chi.URLParam(r, "date")
	sub := chi.URLParam(r, "*")

	dir, err := h.resolve(hostname, date, sub)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			ErrNotFound(w, "no such snapshot path")
			return
		}
		h.logger.Error("failed to browse snapshot", zap.String("hostname", hostname), zap.Error(err))
		ErrInternal(w)
		return
	}

	out := make([]browseEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		typ := "file"
		if e.IsDir() {
			typ = "dir"
		}
		out = append(out, browseEntry{Name: e.Name(), Type: typ, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	Ok(w, out)
}

// Download handles GET /api/download/<host>/<date>/<path>, streaming the
// resolved subtree as a tar.gz or zip archive.
func (h *SnapshotHandler) Download(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "host")
	date := chi.URLParam(r, "date")
	sub := chi.URLParam(r, "*")

	dir, err := h.resolve(hostname, date, sub)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	if _, err := os.Stat(dir); err != nil {
		ErrNotFound(w, "no such snapshot path")
		return
	}

	format := archive.ParseFormat(r.URL.Query().Get("format"))
	name := strings.ReplaceAll(strings.Trim(sub, "/"), "/", "-")
	if name == "" {
		name = date
	}

	w.Header().Set("Content-Type", archive.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+hostname+"-"+name+archive.FileExtension(format)+`"`)

	if err := archive.Stream(r.Context(), w, dir, format); err != nil {
		h.logger.Error("failed to stream archive", zap.String("hostname", hostname), zap.Error(err))
	}
}

// resolve joins hostname/date/sub onto the backup root, rejecting any path
// that would escape the snapshot directory.
func (h *SnapshotHandler) resolve(hostname, date, sub string) (string, error) {
	base := filepath.Join(h.backupRoot, hostname, date)
	clean := filepath.Clean("/" + sub)
	full := filepath.Join(base, clean)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", errors.New("invalid path")
	}
	return full, nil
}
