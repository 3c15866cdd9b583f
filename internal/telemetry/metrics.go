package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of a single mirror run. Each Metrics owns its registry so
// a run can be written out as a node_exporter textfile without touching global state.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	requests     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	records      *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
	watermarkEnd *prometheus.GaugeVec
}

// NewMetrics creates and registers the mirror metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nvdmirror",
				Name:      "requests_total",
				Help:      "Total number of NVD API requests",
			},
			[]string{"endpoint", "outcome"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nvdmirror",
				Name:      "retries_total",
				Help:      "Total number of retried NVD API requests",
			},
			[]string{"endpoint"},
		),

		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nvdmirror",
				Name:      "records_synced_total",
				Help:      "Total number of records written to the repository",
			},
			[]string{"kind"},
		),

		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nvdmirror",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful sync per record kind",
			},
			[]string{"kind"},
		),

		watermarkEnd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nvdmirror",
				Name:      "watermark_end_timestamp_seconds",
				Help:      "lastModEndDate of the committed watermark per record kind",
			},
			[]string{"kind"},
		),
	}

	m.Registry.MustRegister(m.requests, m.retries, m.records, m.lastSuccess, m.watermarkEnd)
	return m
}

// ObserveRequest counts one API request
func (m *Metrics) ObserveRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveRetry counts one retry of an API request
func (m *Metrics) ObserveRetry(endpoint string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(endpoint).Inc()
}

// ObserveRecords adds n written records of kind
func (m *Metrics) ObserveRecords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(kind).Add(float64(n))
}

// ObserveSuccess marks a completed sync of kind
func (m *Metrics) ObserveSuccess(kind string, at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.WithLabelValues(kind).Set(float64(at.Unix()))
}

// ObserveWatermark records the committed end boundary of kind
func (m *Metrics) ObserveWatermark(kind string, end time.Time) {
	if m == nil {
		return
	}
	m.watermarkEnd.WithLabelValues(kind).Set(float64(end.Unix()))
}

// WriteTextfile dumps the registry in the text exposition format, atomically
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
