package firebasil

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// Metrics is a prometheus.Collector tracking session activity for one
// client. Attach it with WithMetrics and register it on your registry;
// a nil *Metrics records nothing.
type Metrics struct {
	sessionsOpened   atomic.Int64
	sessionsActive   atomic.Int64
	reconnects       atomic.Int64
	framesByEvent    *xsync.MapOf[string, *xsync.Counter]
	sessionsDesc     *prometheus.Desc
	activeDesc       *prometheus.Desc
	reconnectsDesc   *prometheus.Desc
	framesDesc       *prometheus.Desc
}

// NewMetrics returns an empty Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		framesByEvent: xsync.NewMapOf[string, *xsync.Counter](),
		sessionsDesc: prometheus.NewDesc(
			"rtdb_sessions_opened_total",
			"Total number of replica sessions opened",
			nil, nil,
		),
		activeDesc: prometheus.NewDesc(
			"rtdb_sessions_active",
			"Number of replica sessions currently running",
			nil, nil,
		),
		reconnectsDesc: prometheus.NewDesc(
			"rtdb_session_reconnects_total",
			"Total number of stream reopens after a lost connection",
			nil, nil,
		),
		framesDesc: prometheus.NewDesc(
			"rtdb_frames_received_total",
			"Total number of stream frames received, by event type",
			[]string{"event"}, nil,
		),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.sessionsDesc
	ch <- m.activeDesc
	ch <- m.reconnectsDesc
	ch <- m.framesDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		m.sessionsDesc,
		prometheus.CounterValue,
		float64(m.sessionsOpened.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		m.activeDesc,
		prometheus.GaugeValue,
		float64(m.sessionsActive.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		m.reconnectsDesc,
		prometheus.CounterValue,
		float64(m.reconnects.Load()),
	)
	m.framesByEvent.Range(func(event string, c *xsync.Counter) bool {
		ch <- prometheus.MustNewConstMetric(
			m.framesDesc,
			prometheus.CounterValue,
			float64(c.Value()),
			event,
		)
		return true
	})
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Add(1)
	m.sessionsActive.Add(1)
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Add(-1)
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Add(1)
}

func (m *Metrics) frame(event string) {
	if m == nil {
		return
	}
	c, _ := m.framesByEvent.LoadOrCompute(event, xsync.NewCounter)
	c.Inc()
}
