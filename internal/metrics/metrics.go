// Package metrics exposes this daemon's own Prometheus metrics, separate
// from the per-host backup metrics reported elsewhere. It is modeled on
// inful-docbuilder's internal/metrics.PrometheusRecorder: a struct of
// pre-registered collectors built once in New and updated by narrow
// Observe* methods, plus an http.Handler for the scrape endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds this daemon's Prometheus collectors, all under the
// "tmserviced" namespace.
type Collector struct {
	registry *prometheus.Registry

	jobsRunning     prometheus.GaugeFunc
	jobOutcomes     *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpReqDuration *prometheus.HistogramVec
}

// RunningCounter is satisfied by *internal/supervisor.Supervisor.
type RunningCounter interface {
	RunningCount() int
}

// New builds and registers the collector set against a fresh registry.
// running reports the current in-flight job count on every scrape.
func New(running RunningCounter) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmserviced",
			Name:      "job_outcomes_total",
			Help:      "Completed backup jobs by hostname, mode, and final status",
		}, []string{"hostname", "mode", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tmserviced",
			Name:      "job_duration_seconds",
			Help:      "Backup job wall-clock duration",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12), // 10s .. ~5.7h
		}, []string{"hostname", "mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmserviced",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the API, by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpReqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tmserviced",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	c.jobsRunning = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tmserviced",
		Name:      "jobs_running",
		Help:      "Backup jobs currently in flight",
	}, func() float64 { return float64(running.RunningCount()) })

	reg.MustRegister(c.jobsRunning, c.jobOutcomes, c.jobDuration, c.httpRequests, c.httpReqDuration)
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return c
}

// ObserveJobOutcome implements internal/supervisor.Recorder.
func (c *Collector) ObserveJobOutcome(hostname, mode, status string, duration time.Duration) {
	c.jobOutcomes.WithLabelValues(hostname, mode, status).Inc()
	c.jobDuration.WithLabelValues(hostname, mode).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served request for the /metrics endpoint.
func (c *Collector) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpReqDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the standard Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
