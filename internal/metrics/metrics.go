// Package metrics holds the prometheus collectors for the collector, the
// update gate and the read API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creel"

// Metrics groups every collector registered by the service
type Metrics struct {
	PagesTotal       *prometheus.CounterVec
	RecordsTotal     *prometheus.CounterVec
	PageDuration     prometheus.Histogram
	PageRows         prometheus.Histogram
	RunsTotal        *prometheus.CounterVec
	GateTotal        *prometheus.CounterVec
	StorageOps       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	StoredRecords    prometheus.Gauge
	LastRunTimestamp prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh registry keeps tests
// independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Export pages fetched, by result",
		}, []string{"result"}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records reconciled, by outcome",
		}, []string{"outcome"}),
		PageDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_duration_seconds",
			Help:      "Time to fetch and store one export page",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		PageRows: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_rows",
			Help:      "Data rows per export page",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collector runs, by stop reason",
		}, []string{"stop"}),
		GateTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_gate_total",
			Help:      "Update gate decisions, by status",
		}, []string{"status"}),
		StorageOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_operations_total",
			Help:      "Blob storage operations, by operation and result",
		}, []string{"op", "result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Read API requests, by route and status code",
		}, []string{"route", "code"}),
		StoredRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_records",
			Help:      "Records in the store after the last run",
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last successful update",
		}),
		gatherer: reg,
	}
}

// NewNop returns metrics backed by a private registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler exposes the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
