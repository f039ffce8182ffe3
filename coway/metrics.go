package coway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects poll loop and per device metrics
type Metrics struct {
	pollDuration   prometheus.Histogram
	pollErrors     prometheus.Counter
	lastPoll       prometheus.Gauge
	remoteFailures *prometheus.CounterVec
	connected      *prometheus.GaugeVec
	pending        *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	labels := []string{"barcode", "type"}
	return &Metrics{
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cowaybridge_poll_duration_seconds",
			Help:    "Duration of one poll cycle over every accessory",
			Buckets: prometheus.DefBuckets,
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cowaybridge_poll_errors_total",
			Help: "Poll cycles aborted by a protocol error",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cowaybridge_last_poll_timestamp_seconds",
			Help: "Last completed poll cycle (epoch seconds)",
		}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cowaybridge_remote_call_failures_total",
			Help: "IoCare calls which returned no data",
		}, []string{"endpoint"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cowaybridge_accessory_connected",
			Help: "1 if the device reported itself online on the last poll",
		}, labels),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cowaybridge_accessory_pending_commands",
			Help: "Commands waiting for the device to report the desired value",
		}, labels),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.pollDuration.Describe(ch)
	m.pollErrors.Describe(ch)
	m.lastPoll.Describe(ch)
	m.remoteFailures.Describe(ch)
	m.connected.Describe(ch)
	m.pending.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.pollDuration.Collect(ch)
	m.pollErrors.Collect(ch)
	m.lastPoll.Collect(ch)
	m.remoteFailures.Collect(ch)
	m.connected.Collect(ch)
	m.pending.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
