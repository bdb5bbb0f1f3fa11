// Package metrics exports device and collector counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trackpoint"

type Metrics struct {
	registry *prometheus.Registry

	samples      *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	flushEntries *prometheus.CounterVec
	acked        *prometheus.CounterVec

	batches     *prometheus.CounterVec
	entries     *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	synthesized *prometheus.CounterVec
	estimates   *prometheus.CounterVec
	devices     prometheus.Gauge
	inboxDrops  prometheus.Counter
}

// New registers every collector on a fresh registry, so several instances
// can live in one process.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.samples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "device", Name: "samples_total",
		Help: "Position samples buffered by a device.",
	}, []string{"device"})
	m.flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "device", Name: "flushes_total",
		Help: "Transmit decisions by outcome.",
	}, []string{"device", "outcome"})
	m.flushEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "device", Name: "flush_entries_total",
		Help: "Entries placed in batches by outcome.",
	}, []string{"device", "outcome"})
	m.acked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "device", Name: "acked_total",
		Help: "Buffered entries removed by acknowledgments.",
	}, []string{"device"})
	m.batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "batches_total",
		Help: "Batches received.",
	}, []string{"device"})
	m.entries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "entries_total",
		Help: "Entries received by result.",
	}, []string{"device", "result"})
	m.parseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "parse_errors_total",
		Help: "Lines dropped by the ingest parser.",
	}, []string{"device"})
	m.synthesized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "synthesized_total",
		Help: "Gap ids filled by interpolation or back fill.",
	}, []string{"device"})
	m.estimates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "estimates_total",
		Help: "Dead reckoning estimates.",
	}, []string{"device"})
	m.devices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "collector", Name: "devices",
		Help: "Devices tracked.",
	})
	m.inboxDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "collector", Name: "inbox_dropped_total",
		Help: "Datagrams dropped because the ingest queue was full.",
	})
	m.registry.MustRegister(m.samples, m.flushes, m.flushEntries, m.acked,
		m.batches, m.entries, m.parseErrors, m.synthesized, m.estimates, m.devices, m.inboxDrops)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Sampled(device string) {
	m.samples.WithLabelValues(device).Inc()
}

func (m *Metrics) Flushed(device string, outcome string, entries int) {
	m.flushes.WithLabelValues(device, outcome).Inc()
	if entries > 0 {
		m.flushEntries.WithLabelValues(device, outcome).Add(float64(entries))
	}
}

func (m *Metrics) Acked(device string, removed int) {
	m.acked.WithLabelValues(device).Add(float64(removed))
}

func (m *Metrics) Ingested(device string, applied, duplicates, parseErrors, synthesized int) {
	m.batches.WithLabelValues(device).Inc()
	if applied > 0 {
		m.entries.WithLabelValues(device, "applied").Add(float64(applied))
	}
	if duplicates > 0 {
		m.entries.WithLabelValues(device, "duplicate").Add(float64(duplicates))
	}
	if parseErrors > 0 {
		m.parseErrors.WithLabelValues(device).Add(float64(parseErrors))
	}
	if synthesized > 0 {
		m.synthesized.WithLabelValues(device).Add(float64(synthesized))
	}
}

func (m *Metrics) Estimated(device string) {
	m.estimates.WithLabelValues(device).Inc()
}

func (m *Metrics) DeviceCount(n int) {
	m.devices.Set(float64(n))
}

func (m *Metrics) InboxDropped() {
	m.inboxDrops.Inc()
}
