package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRunningCounter struct{ n int }

func (f fakeRunningCounter) RunningCount() int { return f.n }

func TestCollectorScrapeContainsRegisteredMetrics(t *testing.T) {
	c := New(fakeRunningCounter{n: 2})
	c.ObserveJobOutcome("web1", "full", "completed", 42*time.Second)
	c.ObserveHTTPRequest(http.MethodGet, "/api/status", "200", 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, "tmserviced_jobs_running 2")
	require.Contains(t, body, "tmserviced_job_outcomes_total")
	require.Contains(t, body, `hostname="web1"`)
	require.Contains(t, body, "tmserviced_http_requests_total")
	require.Contains(t, body, `route="/api/status"`)
}

func TestCollectorJobsRunningReflectsLiveCount(t *testing.T) {
	counter := &fakeRunningCounter{n: 0}
	c := New(counter)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)
	require.Contains(t, rr.Body.String(), "tmserviced_jobs_running 0")

	counter.n = 3
	rr = httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)
	require.Contains(t, rr.Body.String(), "tmserviced_jobs_running 3")
}
