package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSystemHandlerGet(t *testing.T) {
	h := NewSystemHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/system", nil)
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}
