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

	"github.com/tmbackup/tmserviced/internal/roster"
)

func newServerHandler(t *testing.T) (*ServerHandler, string, string) {
	t.Helper()
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "servers")
	archivePath := filepath.Join(dir, "archived")
	store := newTestStore(t)
	h := NewServerHandler(store, rosterPath, archivePath, t.TempDir(), zap.NewNop())
	return h, rosterPath, archivePath
}

func TestServerHandlerCreateAndList(t *testing.T) {
	h, _, _ := newServerHandler(t)

	body, _ := json.Marshal(serverCreateRequest{Hostname: "web1", Options: "--priority 5"})
	req := httptest.NewRequest(http.MethodPost, "/api/servers", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Create(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	rr = httptest.NewRecorder()
	h.List(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "web1")
}

func TestServerHandlerCreateConflict(t *testing.T) {
	h, rosterPath, _ := newServerHandler(t)
	require.NoError(t, roster.Append(rosterPath, roster.Entry{Hostname: "web1", Priority: 10, Mode: roster.ModeFull, Rotate: true}))

	body, _ := json.Marshal(serverCreateRequest{Hostname: "web1"})
	req := httptest.NewRequest(http.MethodPost, "/api/servers", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Create(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestServerHandlerUpdate(t *testing.T) {
	h, rosterPath, _ := newServerHandler(t)
	require.NoError(t, roster.Append(rosterPath, roster.Entry{Hostname: "web1", Priority: 10, Mode: roster.ModeFull, Rotate: true}))

	newPriority := 3
	body, _ := json.Marshal(serverUpdateRequest{Priority: &newPriority})
	req := httptest.NewRequest(http.MethodPut, "/api/servers/web1", bytes.NewReader(body))
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()
	h.Update(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	entry, err := roster.Get(rosterPath, "web1")
	require.NoError(t, err)
	require.Equal(t, 3, entry.Priority)
}

func TestServerHandlerArchiveAndUnarchive(t *testing.T) {
	h, rosterPath, archivePath := newServerHandler(t)
	require.NoError(t, roster.Append(rosterPath, roster.Entry{Hostname: "web1", Priority: 10, Mode: roster.ModeFull, Rotate: true}))

	req := httptest.NewRequest(http.MethodDelete, "/api/servers/web1?action=archive", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()
	h.Delete(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := roster.Get(rosterPath, "web1")
	require.ErrorIs(t, err, roster.ErrNotFound)
	_, err = roster.Get(archivePath, "web1")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/archived/web1/unarchive", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr = httptest.NewRecorder()
	h.Unarchive(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err = roster.Get(rosterPath, "web1")
	require.NoError(t, err)
}

func TestServerHandlerDeleteUnknownActionIsBadRequest(t *testing.T) {
	h, _, _ := newServerHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/servers/web1?action=bogus", nil)
	req = withURLParams(req, map[string]string{"host": "web1"})
	rr := httptest.NewRecorder()
	h.Delete(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
