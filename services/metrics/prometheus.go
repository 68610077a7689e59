// Package metrics exposes the back office's operational counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azardenmark/dashboard-sub000/core/school"
)

const namespace = "rawdati"

// Prometheus implements school.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	jobs             *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	studentsMoved    prometheus.Counter
	guardiansMissing prometheus.Counter
	counterDrift     *prometheus.CounterVec
	counterBatchDocs prometheus.Histogram
}

var _ school.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time spent running a job.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		studentsMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "students_moved_total",
			Help:      "Students moved between classes.",
		}),
		guardiansMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardians_missing_total",
			Help:      "Guardian ids referenced by a student that do not exist.",
		}),
		counterDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counters",
			Name:      "drift_total",
			Help:      "Stored counters found to differ from the recomputed value.",
		}, []string{"collection", "field"}),
		counterBatchDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "counters",
			Name:      "batch_docs",
			Help:      "Documents touched by a single counter batch.",
			Buckets:   prometheus.LinearBuckets(1, 2, 6),
		}),
	}
	m.registry.MustRegister(
		m.jobs,
		m.jobDuration,
		m.studentsMoved,
		m.guardiansMissing,
		m.counterDrift,
		m.counterBatchDocs,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Prometheus) JobFinished(kind string, status school.JobStatus, elapsed time.Duration) {
	m.jobs.WithLabelValues(kind, string(status)).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Prometheus) StudentsMoved(n int) {
	if n > 0 {
		m.studentsMoved.Add(float64(n))
	}
}

func (m *Prometheus) GuardiansMissing(n int) {
	if n > 0 {
		m.guardiansMissing.Add(float64(n))
	}
}

func (m *Prometheus) CounterDrift(collection, field string, n int) {
	if n > 0 {
		m.counterDrift.WithLabelValues(collection, field).Add(float64(n))
	}
}

func (m *Prometheus) CounterBatch(docs int) {
	m.counterBatchDocs.Observe(float64(docs))
}
