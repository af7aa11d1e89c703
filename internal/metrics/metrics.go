// Package metrics exposes Prometheus instruments for the monitor, the
// orchestrator and the ledger on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "yieldbridge"

// Metrics bundles every instrument the services record into.
type Metrics struct {
	registry *prometheus.Registry

	MonitorChecks    *prometheus.CounterVec
	MonitorSettled   *prometheus.CounterVec
	MonitoredEntries prometheus.Gauge
	TickDuration     prometheus.Histogram

	FlowsStarted  prometheus.Counter
	FlowsFinished *prometheus.CounterVec

	RecordsAppended prometheus.Counter
	RecordsEvicted  prometheus.Counter
}

// New creates and registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MonitorChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Status checks issued against external ledgers.",
		}, []string{"kind", "result"}),
		MonitorSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "settled_total",
			Help:      "Monitored records moved to a terminal status.",
		}, []string{"kind", "status"}),
		MonitoredEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "entries",
			Help:      "Records currently under monitoring.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one polling tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		FlowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "started_total",
			Help:      "Bridge flows accepted after validation.",
		}),
		FlowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "finished_total",
			Help:      "Bridge flows that reached an outcome.",
		}, []string{"outcome"}),
		RecordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appended_total",
			Help:      "Transaction records appended.",
		}),
		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "evicted_total",
			Help:      "Terminal records evicted by the retention cap.",
		}),
	}

	reg.MustRegister(
		m.MonitorChecks, m.MonitorSettled, m.MonitoredEntries, m.TickDuration,
		m.FlowsStarted, m.FlowsFinished,
		m.RecordsAppended, m.RecordsEvicted,
	)
	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
