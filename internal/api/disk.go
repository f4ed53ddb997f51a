package api

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// DiskHandler reports disk usage of the backup root (spec.md §4.8), via
// gopsutil/v3/disk — the same module internal/sysinfo already pulls in for
// load/mem/host metrics, applied here to its disk-usage call instead.
type DiskHandler struct {
	backupRoot string
	logger     *zap.Logger
}

// NewDiskHandler creates a DiskHandler.
func NewDiskHandler(backupRoot string, logger *zap.Logger) *DiskHandler {
	return &DiskHandler{backupRoot: backupRoot, logger: logger.Named("disk_handler")}
}

type diskResponse struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Get handles GET /api/disk.
func (h *DiskHandler) Get(w http.ResponseWriter, r *http.Request) {
	usage, err := disk.UsageWithContext(r.Context(), h.backupRoot)
	if err != nil {
		h.logger.Error("failed to read disk usage", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, diskResponse{
		Path:        h.backupRoot,
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	})
}
