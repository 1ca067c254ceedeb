// Package metrics exposes Prometheus counters for the agent's HTTP surface,
// comparisons, alignments and analysis jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	comparisonsTotal  prometheus.Counter
	alignmentsTotal   *prometheus.CounterVec
	analysisJobsTotal *prometheus.CounterVec
	analysisDuration  prometheus.Histogram
	similarity        prometheus.Histogram
	pendingJobs       prometheus.Gauge
	videos            prometheus.Gauge
}

// New creates and registers the agent metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dancesync_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dancesync_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		comparisonsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dancesync_comparisons_total",
			Help: "Total number of beat comparisons computed",
		}),
		alignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dancesync_alignments_total",
			Help: "Total number of audio alignments, by same-song classification",
		}, []string{"same_song"}),
		analysisJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dancesync_analysis_jobs_total",
			Help: "Finished background jobs by type and final status",
		}, []string{"type", "status"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dancesync_analysis_job_seconds",
			Help:    "Wall time of background jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dancesync_average_similarity",
			Help:    "Average beat similarity of computed comparisons",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dancesync_active_jobs",
			Help: "Jobs that are pending or running",
		}),
		videos: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dancesync_videos",
			Help: "Videos in the catalog",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.comparisonsTotal,
		m.alignmentsTotal,
		m.analysisJobsTotal,
		m.analysisDuration,
		m.similarity,
		m.pendingJobs,
		m.videos,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveComparison records one comparison and its average similarity.
func (m *Metrics) ObserveComparison(averageSimilarity float64) {
	m.comparisonsTotal.Inc()
	m.similarity.Observe(averageSimilarity)
}

func (m *Metrics) ObserveAlignment(sameSong bool) {
	label := "false"
	if sameSong {
		label = "true"
	}
	m.alignmentsTotal.WithLabelValues(label).Inc()
}

// ObserveJob satisfies catalog.JobObserver.
func (m *Metrics) ObserveJob(jobType, status string, elapsed time.Duration) {
	m.analysisJobsTotal.WithLabelValues(jobType, status).Inc()
	m.analysisDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetActiveJobs(n int) {
	m.pendingJobs.Set(float64(n))
}

func (m *Metrics) SetVideos(n int) {
	m.videos.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
