package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExcludeHandlerGlobalRoundTrip(t *testing.T) {
	h := NewExcludeHandler(t.TempDir(), zap.NewNop())

	body, _ := json.Marshal(excludeContent{Content: "*.log\n*.tmp\n"})
	putReq := httptest.NewRequest(http.MethodPut, "/api/excludes", bytes.NewReader(body))
	putRR := httptest.NewRecorder()
	h.PutGlobal(putRR, putReq)
	require.Equal(t, http.StatusOK, putRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/excludes", nil)
	getRR := httptest.NewRecorder()
	h.GetGlobal(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)
	require.Contains(t, getRR.Body.String(), "*.log")
}

func TestExcludeHandlerHostScoped(t *testing.T) {
	h := NewExcludeHandler(t.TempDir(), zap.NewNop())

	body, _ := json.Marshal(excludeContent{Content: "cache/\n"})
	putReq := httptest.NewRequest(http.MethodPut, "/api/excludes/web1", bytes.NewReader(body))
	putReq = withURLParams(putReq, map[string]string{"host": "web1"})
	putRR := httptest.NewRecorder()
	h.PutHost(putRR, putReq)
	require.Equal(t, http.StatusOK, putRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/excludes/web1", nil)
	getReq = withURLParams(getReq, map[string]string{"host": "web1"})
	getRR := httptest.NewRecorder()
	h.GetHost(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)
	require.Contains(t, getRR.Body.String(), "cache/")
}
