// Package metrics exposes Prometheus collectors for the fetch layer and the monitor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Fetch/cache layer
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	StaleServes  prometheus.Counter
	PageRequests *prometheus.CounterVec
	DroppedRows  prometheus.Counter

	// Monitor
	Cycles         *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	MarketsScanned prometheus.Gauge
	MarketsTracked prometheus.Gauge
	Alerts         *prometheus.CounterVec

	// Notifier
	NotificationsDropped prometheus.Counter
}

// New creates a private registry and registers all metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "polystatics_cache_hits_total",
			Help: "Market queries served from the in-memory cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "polystatics_cache_misses_total",
			Help: "Market queries that required an upstream fetch",
		}),
		StaleServes: f.NewCounter(prometheus.CounterOpts{
			Name: "polystatics_cache_stale_serves_total",
			Help: "Failed fetches answered with a previous cache entry",
		}),
		PageRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polystatics_page_requests_total",
			Help: "Upstream page requests by result",
		}, []string{"result"}),
		DroppedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "polystatics_dropped_records_total",
			Help: "Upstream records dropped because they failed to parse",
		}),

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polystatics_cycles_total",
			Help: "Monitoring cycles by result",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "polystatics_cycle_duration_seconds",
			Help:    "Wall time of one monitoring cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		MarketsScanned: f.NewGauge(prometheus.GaugeOpts{
			Name: "polystatics_markets_scanned",
			Help: "Markets returned by the last cycle's fetch",
		}),
		MarketsTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "polystatics_markets_tracked",
			Help: "Markets with a snapshot in the store",
		}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polystatics_alerts_total",
			Help: "Volatility alerts fired by direction",
		}, []string{"direction"}),

		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "polystatics_notifications_dropped_total",
			Help: "Alerts dropped because the notifier queue was full",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) RecordStaleServe() {
	if m != nil {
		m.StaleServes.Inc()
	}
}

// RecordPage counts one upstream page request as "ok" or "error".
func (m *Metrics) RecordPage(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PageRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDroppedRecords(n int) {
	if m != nil && n > 0 {
		m.DroppedRows.Add(float64(n))
	}
}

// RecordCycle records the outcome of one monitoring cycle.
func (m *Metrics) RecordCycle(seconds float64, scanned, tracked int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
	if err == nil {
		m.MarketsScanned.Set(float64(scanned))
		m.MarketsTracked.Set(float64(tracked))
	}
}

func (m *Metrics) RecordAlert(direction string) {
	if m != nil {
		m.Alerts.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) RecordNotificationDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}
