package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/config"
)

func TestSettingsHandlerGet(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	h := NewSettingsHandler(cfg, filepath.Join(t.TempDir(), "env"), newTestStore(t), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "retention_days")
}

func TestSettingsHandlerPutReloadsConfigAndMarksReload(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	configPath := filepath.Join(t.TempDir(), "env")
	store := newTestStore(t)
	h := NewSettingsHandler(cfg, configPath, store, zap.NewNop())

	body, _ := json.Marshal(map[string]string{"retention_days": "90"})
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Put(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 90, cfg.RetentionDays, "Put must update the shared Config in place")
	require.Contains(t, rr.Body.String(), `"retention_days":"90"`)
	require.True(t, store.ReloadRequested(), "Put must set the reload marker")
}

func TestSettingsHandlerPutRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	h := NewSettingsHandler(cfg, filepath.Join(t.TempDir(), "env"), newTestStore(t), zap.NewNop())

	body, _ := json.Marshal(map[string]string{"retention_days": "0"})
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Put(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
