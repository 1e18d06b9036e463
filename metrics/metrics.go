// Package metrics exports acquisition progress as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sergev/snap/acquisition"
)

// Metrics implements acquisition.Observer
type Metrics struct {
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	Samples        *prometheus.CounterVec
	Bytes          *prometheus.CounterVec
	EmptyReads     *prometheus.CounterVec
	Nudges         *prometheus.CounterVec
	Duration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ acquisition.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg means
// a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snap_active_sessions",
			Help: "Acquisitions currently streaming",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snap_sessions_total",
			Help: "Finished acquisitions by mode and exit reason",
		}, []string{"mode", "reason"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snap_samples_total",
			Help: "Samples delivered to the sink",
		}, []string{"mode"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snap_bytes_read_total",
			Help: "Sample bytes read from the device",
		}, []string{"mode"}),
		EmptyReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snap_empty_reads_total",
			Help: "Reads that returned no data while streaming",
		}, []string{"mode"}),
		Nudges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snap_nudges_total",
			Help: "NOP commands sent to a quiet device",
		}, []string{"mode"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snap_session_duration_seconds",
			Help:    "Time from start to end of stream",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}
	reg.MustRegister(m.ActiveSessions, m.Sessions, m.Samples, m.Bytes, m.EmptyReads, m.Nudges, m.Duration)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(mode acquisition.Mode) {
	m.ActiveSessions.Inc()
}

func (m *Metrics) BytesRead(mode acquisition.Mode, n int) {
	m.Bytes.WithLabelValues(mode.String()).Add(float64(n))
}

func (m *Metrics) SamplesEmitted(mode acquisition.Mode, n int) {
	m.Samples.WithLabelValues(mode.String()).Add(float64(n))
}

func (m *Metrics) EmptyRead(mode acquisition.Mode) {
	m.EmptyReads.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) Nudged(mode acquisition.Mode) {
	m.Nudges.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) SessionFinished(res acquisition.Result) {
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(res.Mode.String(), res.Reason.String()).Inc()
	m.Duration.WithLabelValues(res.Mode.String()).Observe(res.Duration.Seconds())
}
