package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "notesync"

// Metrics holds the realtime collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	events          *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	dropped         prometheus.Counter
	contentUpdates  prometheus.Counter
	versionsSaved   prometheus.Counter
	roomsCreated    prometheus.Counter
	roomsDeleted    *prometheus.CounterVec
	passwordDenials prometheus.Counter
}

// NewMetrics registers the realtime collectors on reg.
// Room and membership gauges are read from registry at scrape time.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ws_connections",
			Help:      "Current number of open websocket sessions",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ws_events_total",
			Help:      "Inbound websocket events by type",
		}, []string{"type"}),
		eventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "ws_event_duration_seconds",
			Help:      "Time spent handling an inbound event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ws_errors_total",
			Help:      "Error envelopes sent to clients by code",
		}, []string{"code"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_dropped_total",
			Help:      "Broadcast envelopes dropped because a send queue was full",
		}),
		contentUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "content_updates_total",
			Help:      "Accepted content edits and restores",
		}),
		versionsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "versions_saved_total",
			Help:      "Version snapshots appended",
		}),
		roomsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created explicitly or on first join",
		}),
		roomsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_deleted_total",
			Help:      "Rooms deleted by reason",
		}, []string{"reason"}),
		passwordDenials: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "password_denials_total",
			Help:      "Joins refused for a missing or wrong room password",
		}),
	}

	if registry != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one connected session",
		}, func() float64 { return float64(registry.Rooms()) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "room_members",
			Help:      "Room memberships across all rooms",
		}, func() float64 { return float64(registry.Total()) })
	}
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) observeEvent(typ string, d time.Duration) {
	if m != nil {
		m.events.WithLabelValues(typ).Inc()
		m.eventDuration.WithLabelValues(typ).Observe(d.Seconds())
	}
}

func (m *Metrics) errorSent(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) droppedN(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}

func (m *Metrics) contentUpdated() {
	if m != nil {
		m.contentUpdates.Inc()
	}
}

func (m *Metrics) versionSaved() {
	if m != nil {
		m.versionsSaved.Inc()
	}
}

func (m *Metrics) roomCreated() {
	if m != nil {
		m.roomsCreated.Inc()
	}
}

func (m *Metrics) roomDeleted(reason string, n int) {
	if m != nil && n > 0 {
		m.roomsDeleted.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) passwordDenied() {
	if m != nil {
		m.passwordDenials.Inc()
	}
}
