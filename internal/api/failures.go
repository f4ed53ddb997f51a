package api

import (
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/logtail"
	"github.com/tmbackup/tmserviced/internal/roster"
)

// FailuresHandler reports the most recent failure marker per host (spec.md
// §4.8), scanning each host's newest job log for the same failure-marker
// substrings supervisor.reconcile uses to classify an orphaned record.
type FailuresHandler struct {
	logDir     string
	rosterPath string
	logger     *zap.Logger
}

// NewFailuresHandler creates a FailuresHandler.
func NewFailuresHandler(logDir, rosterPath string, logger *zap.Logger) *FailuresHandler {
	return &FailuresHandler{logDir: logDir, rosterPath: rosterPath, logger: logger.Named("failures_handler")}
}

// failureMarkers mirrors internal/supervisor's log-tail classification
// substrings, applied here across every host's newest log instead of one
// orphaned record's.
var failureMarkers = []string{"[ERROR]", "FAIL", "fatal", "Permission denied", "cannot create"}

type failureEntry struct {
	Hostname string `json:"hostname"`
	LogFile  string `json:"logfile"`
	ModTime  int64  `json:"mod_time"`
	Excerpt  string `json:"excerpt"`
}

// List handles GET /api/failures.
func (h *FailuresHandler) List(w http.ResponseWriter, r *http.Request) {
	ros, err := roster.Read(h.rosterPath)
	if err != nil {
		h.logger.Error("failed to read roster", zap.Error(err))
		ErrInternal(w)
		return
	}

	var out []failureEntry
	for _, e := range ros.Entries {
		entries, err := logtail.ListForHost(h.logDir, e.Hostname)
		if err != nil {
			continue
		}
		newest, ok := logtail.Newest(entries)
		if !ok {
			continue
		}
		path, err := logtail.Path(h.logDir, newest.Name)
		if err != nil {
			continue
		}
		tail, err := logtail.Tail(path, 500)
		if err != nil || !containsFailureMarker(tail) {
			continue
		}
		out = append(out, failureEntry{
			Hostname: e.Hostname,
			LogFile:  newest.Name,
			ModTime:  newest.ModTime,
			Excerpt:  lastLines(tail, 20),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime > out[j].ModTime })
	Ok(w, out)
}

func containsFailureMarker(tail string) bool {
	for _, m := range failureMarkers {
		if strings.Contains(tail, m) {
			return true
		}
	}
	return false
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
