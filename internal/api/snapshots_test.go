package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSnapshot(t *testing.T, backupRoot, hostname, date string, withFiles, withDB bool) {
	t.Helper()
	dir := filepath.Join(backupRoot, hostname, date)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if withFiles {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "files"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "files", "a.txt"), []byte("hello"), 0o644))
	}
	if withDB {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "sql"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "sql", "dump.sql"), []byte("--"), 0o644))
	}
}

func TestSnapshotHandlerListFiltersOldMonths(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	recent := now.Format("2006-01-02")
	stale := now.AddDate(0, -6, 0).Format("2006-01-02")

	writeSnapshot(t, root, "web1", recent, true, true)
	writeSnapshot(t, root, "web1", stale, true, false)

	h := NewSnapshotHandler(root, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/web1", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.List(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), recent)
	require.NotContains(t, rr.Body.String(), stale)
}

func TestSnapshotHandlerListMissingHost(t *testing.T) {
	h := NewSnapshotHandler(t.TempDir(), zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/ghost", nil)
	req = withURLParams(req, map[string]string{"host": "ghost"})
	rr := httptest.NewRecorder()

	h.List(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())
}

func TestSnapshotHandlerBrowse(t *testing.T) {
	root := t.TempDir()
	date := time.Now().Format("2006-01-02")
	writeSnapshot(t, root, "web1", date, true, false)

	h := NewSnapshotHandler(root, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/browse/web1/"+date+"/files", nil)
	req = withURLParams(req, map[string]string{"host": "web1", "date": date, "*": "files"})
	rr := httptest.NewRecorder()

	h.Browse(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "a.txt")
}

func TestSnapshotHandlerResolveNeutralizesTraversal(t *testing.T) {
	root := t.TempDir()
	h := NewSnapshotHandler(root, zap.NewNop())
	full, err := h.resolve("web1", "2024-01-01", "../../../etc/passwd")
	require.NoError(t, err)
	base := filepath.Join(root, "web1", "2024-01-01")
	require.True(t, full == base || len(full) > len(base) && full[:len(base)+1] == base+string(filepath.Separator),
		"resolved path %q must stay under snapshot base %q", full, base)
}
