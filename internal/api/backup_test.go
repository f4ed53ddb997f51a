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
	"github.com/tmbackup/tmserviced/internal/scheduler"
)

func writeRoster(t *testing.T, entries ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers")
	content := ""
	for _, e := range entries {
		content += e + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupHandlerLaunch(t *testing.T) {
	rosterPath := writeRoster(t, "web1")
	sup, store := newTestSupervisor(t)
	h := NewBackupHandler(sup, store, rosterPath, scheduler.Template{BackupRoot: t.TempDir()}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/backup/web1", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.Launch(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestBackupHandlerLaunchUnknownHost(t *testing.T) {
	rosterPath := writeRoster(t, "web1")
	sup, store := newTestSupervisor(t)
	h := NewBackupHandler(sup, store, rosterPath, scheduler.Template{BackupRoot: t.TempDir()}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/backup/ghost", nil)
	req = withURLParams(req, map[string]string{"host": "ghost"})
	rr := httptest.NewRecorder()

	h.Launch(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBackupHandlerCancelNotRunning(t *testing.T) {
	sup, store := newTestSupervisor(t)
	h := NewBackupHandler(sup, store, writeRoster(t, "web1"), scheduler.Template{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/backup/web1", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.Cancel(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBackupHandlerLaunchFilesOnlyOverride(t *testing.T) {
	rosterPath := writeRoster(t, "web1 --db-only")
	sup, store := newTestSupervisor(t)
	h := NewBackupHandler(sup, store, rosterPath, scheduler.Template{BackupRoot: t.TempDir()}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/backup/web1?files-only", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.Launch(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	entry, err := roster.Get(rosterPath, "web1")
	require.NoError(t, err)
	require.Equal(t, roster.ModeDBOnly, entry.Mode, "query override must not mutate the persisted roster entry")
}
