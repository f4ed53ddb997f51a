package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/roster"
)

func TestFailuresHandlerListFindsMarkedLogs(t *testing.T) {
	logDir := t.TempDir()
	rosterPath := filepath.Join(t.TempDir(), "servers")
	require.NoError(t, roster.Append(rosterPath, roster.Entry{Hostname: "web1", Priority: 10, Mode: roster.ModeFull, Rotate: true}))
	require.NoError(t, roster.Append(rosterPath, roster.Entry{Hostname: "web2", Priority: 10, Mode: roster.ModeFull, Rotate: true}))

	require.NoError(t, os.WriteFile(filepath.Join(logDir, "job-web1-20240101-010000.log"), []byte("starting\n[ERROR] rsync exited 23\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "job-web2-20240101-010000.log"), []byte("starting\ndone\n"), 0o644))

	h := NewFailuresHandler(logDir, rosterPath, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/failures", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "web1")
	require.NotContains(t, rr.Body.String(), "web2")
}

func TestContainsFailureMarker(t *testing.T) {
	require.True(t, containsFailureMarker("backup started\nPermission denied\n"))
	require.False(t, containsFailureMarker("backup started\ndone\n"))
}
