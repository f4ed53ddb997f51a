package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/roster"
)

// ExcludeHandler serves the global and per-host rsync exclude files
// (spec.md §4.8, §4.1) directly through internal/roster's existing
// read/write helpers.
type ExcludeHandler struct {
	runDir string
	logger *zap.Logger
}

// NewExcludeHandler creates an ExcludeHandler.
func NewExcludeHandler(runDir string, logger *zap.Logger) *ExcludeHandler {
	return &ExcludeHandler{runDir: runDir, logger: logger.Named("exclude_handler")}
}

type excludeContent struct {
	Content string `json:"content"`
}

func (h *ExcludeHandler) read(w http.ResponseWriter, path string) {
	lines, err := roster.ReadExcludeFile(path)
	if err != nil {
		h.logger.Error("failed to read excludes", zap.String("path", path), zap.Error(err))
		ErrInternal(w)
		return
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	Ok(w, excludeContent{Content: content})
}

func (h *ExcludeHandler) write(w http.ResponseWriter, r *http.Request, path string) {
	var req excludeContent
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := roster.WriteExcludeFile(path, req.Content); err != nil {
		h.logger.Error("failed to write excludes", zap.String("path", path), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, req)
}

// GetGlobal handles GET /api/excludes.
func (h *ExcludeHandler) GetGlobal(w http.ResponseWriter, r *http.Request) {
	h.read(w, roster.GlobalExcludePath(h.runDir))
}

// PutGlobal handles PUT /api/excludes.
func (h *ExcludeHandler) PutGlobal(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, roster.GlobalExcludePath(h.runDir))
}

// GetHost handles GET /api/excludes/<host>.
func (h *ExcludeHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	h.read(w, roster.HostExcludePath(h.runDir, chi.URLParam(r, "host")))
}

// PutHost handles PUT /api/excludes/<host>.
func (h *ExcludeHandler) PutHost(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, roster.HostExcludePath(h.runDir, chi.URLParam(r, "host")))
}
