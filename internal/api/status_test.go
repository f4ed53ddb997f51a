package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/pipeline"
	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
)

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, *statestore.Store) {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	fn := func(ctx context.Context, opts pipeline.Options, n pipeline.Notifier) pipeline.Result {
		return pipeline.Result{Hostname: opts.Hostname, Success: true}
	}
	return supervisor.New(store, fn, noopNotifier{}, zap.NewNop()), store
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, ev pipeline.Event) error { return nil }

func TestStatusHandlerStatus(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	h := NewStatusHandler(sup, "1.2.3", time.Now().Add(-time.Minute), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	h.Status(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"version":"1.2.3"`)
	require.Contains(t, rr.Body.String(), `"processes":[]`)
}

func TestStatusHandlerProcesses(t *testing.T) {
	sup, store := newTestSupervisor(t)
	require.NoError(t, store.PutProc(statestore.ProcRecord{Hostname: "web1", Status: statestore.StatusCompleted}))
	h := NewStatusHandler(sup, "dev", time.Now(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	rr := httptest.NewRecorder()
	h.Processes(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"hostname":"web1"`)
}
