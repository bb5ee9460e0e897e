package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"partner_sync/internal/reconcile"
)

// Metrics holds the sync job's Prometheus metrics, on a registry of its own.
type Metrics struct {
	registry    *prometheus.Registry
	Rows        *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partner_sync_rows_total",
			Help: "Rows created, updated, deleted, ignored or skipped by sync runs. Dry runs are not counted.",
		}, []string{"table", "operation"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partner_sync_runs_total",
			Help: "Sync runs by job and outcome.",
		}, []string{"job", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partner_sync_run_duration_seconds",
			Help:    "Duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"job"}),
	}
}

// ObserveResult adds a table's counts. Dry runs write nothing and are skipped.
func (m *Metrics) ObserveResult(_ string, res reconcile.Result) {
	if res.DryRun {
		return
	}
	for op, n := range map[string]int{
		"created": res.Created,
		"updated": res.Updated,
		"deleted": res.Deleted,
		"ignored": res.Ignored,
		"skipped": res.Skipped,
		"held":    res.Held,
	} {
		if n > 0 {
			m.Rows.WithLabelValues(res.Label, op).Add(float64(n))
		}
	}
}

func (m *Metrics) ObserveRun(job, outcome string, elapsed time.Duration) {
	m.Runs.WithLabelValues(job, outcome).Inc()
	m.RunDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
