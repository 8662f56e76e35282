// Package metrics exposes import run metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Doitordead/Intel-irris/internal/runstate"
)

const namespace = "iris"

// Recorder owns a dedicated registry so tests and embedders never collide on
// the global one.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	rows        *prometheus.CounterVec
	edges       *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import runs by final status.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Rows written by committed import runs.",
		}, []string{"table", "op"}),
		edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "edges_total",
			Help:      "Relation edges written by committed import runs.",
		}, []string{"relation", "op"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall time of import runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "last_success_timestamp_seconds",
			Help:      "Finish time of the last committed import run.",
		}),
	}
	r.registry.MustRegister(
		r.runs, r.rows, r.edges, r.duration, r.lastSuccess,
		collectors.NewGoCollector(),
	)
	return r
}

// ObserveRun records one finished run. Row and edge counters only move for
// committed runs.
func (r *Recorder) ObserveRun(s runstate.Summary) {
	r.runs.WithLabelValues(string(s.Status)).Inc()
	r.duration.Observe(s.Duration().Seconds())
	if s.Status != runstate.StatusSucceeded {
		return
	}
	for table, st := range s.Tables {
		r.rows.WithLabelValues(table, "insert").Add(float64(st.Inserted))
		r.rows.WithLabelValues(table, "update").Add(float64(st.Updated))
		r.rows.WithLabelValues(table, "delete").Add(float64(st.Deleted))
	}
	for rel, st := range s.Relations {
		r.edges.WithLabelValues(rel, "add").Add(float64(st.Added))
		r.edges.WithLabelValues(rel, "remove").Add(float64(st.Removed))
	}
	r.lastSuccess.Set(float64(s.FinishedAt.Unix()))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
