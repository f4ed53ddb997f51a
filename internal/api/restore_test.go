package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestRestoreHandlerLaunchRequiresSnapshot(t *testing.T) {
	h := NewRestoreHandler(newTestStore(t), t.TempDir(), t.TempDir(), zap.NewNop())

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/restore/web1", bytes.NewReader(body))
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.Launch(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRestoreHandlerLaunchReturnsPrecomputedLogPath(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "web1", "2024-01-01", true, false)
	logDir := t.TempDir()
	store := newTestStore(t)
	h := NewRestoreHandler(store, root, logDir, zap.NewNop())

	body, _ := json.Marshal(map[string]string{
		"snapshot": "2024-01-01",
		"target":   filepath.Join(t.TempDir(), "out"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/restore/web1", bytes.NewReader(body))
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()

	h.Launch(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Data struct {
			LogFile string `json:"logfile"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.LogFile)
	require.True(t, filepath.Dir(resp.Data.LogFile) == logDir)

	require.Eventually(t, func() bool {
		_, err := os.Stat(resp.Data.LogFile)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "restore goroutine must write to the same path the handler reported")
}

func TestRestoreHandlerDeleteRejectsRunning(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutRestore(statestore.RestoreRecord{
		ID: "r1", Hostname: "web1", Status: statestore.StatusRunning, StartedAt: time.Now(),
	}))
	h := NewRestoreHandler(store, t.TempDir(), t.TempDir(), zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/restore/r1", nil)
	req = withURLParams(req, map[string]string{"id": "r1"})
	rr := httptest.NewRecorder()

	h.Delete(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestRestoreHandlerDeleteNotFound(t *testing.T) {
	h := NewRestoreHandler(newTestStore(t), t.TempDir(), t.TempDir(), zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/restore/ghost", nil)
	req = withURLParams(req, map[string]string{"id": "ghost"})
	rr := httptest.NewRecorder()

	h.Delete(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
