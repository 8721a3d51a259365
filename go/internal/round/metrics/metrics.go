package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector defines the interface for collecting round engine metrics
type Collector interface {
	RecordTransition(status string)
	RecordOutcome(kind string)
	RecordRejection(reason string)
	RecordEviction()
	RecordConnection(delta int)
	RecordPresence(online bool, reason string)
	RecordPublish(eventType string, success bool, duration time.Duration)
}

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordTransition(string)                   {}
func (NoOp) RecordOutcome(string)                      {}
func (NoOp) RecordRejection(string)                    {}
func (NoOp) RecordEviction()                           {}
func (NoOp) RecordConnection(int)                      {}
func (NoOp) RecordPresence(bool, string)               {}
func (NoOp) RecordPublish(string, bool, time.Duration) {}

// Prometheus implements Collector using Prometheus
type Prometheus struct {
	transitions  *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	evictions    prometheus.Counter
	connections  prometheus.Gauge
	online       prometheus.Gauge
	offline      *prometheus.CounterVec
	publishes    *prometheus.CounterVec
	publishTimes *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflex_round_transitions_total",
			Help: "Round status transitions by target status",
		}, []string{"status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflex_outcomes_recorded_total",
			Help: "Outcomes recorded by kind",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflex_commands_rejected_total",
			Help: "Commands rejected by reason",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reflex_gateway_evictions_total",
			Help: "Connections closed because their send buffer was full",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reflex_gateway_connections",
			Help: "Open websocket connections",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reflex_participants_online",
			Help: "Participants currently online in this process",
		}),
		offline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflex_participants_offline_total",
			Help: "Participants marked offline by reason",
		}, []string{"reason"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflex_events_published_total",
			Help: "Events published to the stream",
		}, []string{"event_type", "status"}),
		publishTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reflex_event_publish_seconds",
			Help:    "Stream publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
	}

	reg.MustRegister(
		m.transitions, m.outcomes, m.rejections, m.evictions,
		m.connections, m.online, m.offline, m.publishes, m.publishTimes,
	)
	return m
}

func (m *Prometheus) RecordTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Prometheus) RecordOutcome(kind string) {
	m.outcomes.WithLabelValues(kind).Inc()
}

func (m *Prometheus) RecordRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Prometheus) RecordEviction() {
	m.evictions.Inc()
}

func (m *Prometheus) RecordConnection(delta int) {
	m.connections.Add(float64(delta))
}

func (m *Prometheus) RecordPresence(online bool, reason string) {
	if online {
		m.online.Inc()
		return
	}
	m.online.Dec()
	m.offline.WithLabelValues(reason).Inc()
}

func (m *Prometheus) RecordPublish(eventType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.publishes.WithLabelValues(eventType, status).Inc()
	m.publishTimes.WithLabelValues(eventType).Observe(duration.Seconds())
}
