package metrics

import "github.com/prometheus/client_golang/prometheus"

// initEventBusMetrics initializes event bus fan-out metrics.
func (m *Manager) initEventBusMetrics() {
	m.eventbusDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_dropped_total",
			Help: "Total events dropped from a subscriber's buffer on overflow",
		},
		[]string{"topic"},
	)

	m.registry.MustRegister(m.eventbusDropped)
}

// RecordEventDropped records one drop-oldest-on-overflow event for a topic.
func (m *Manager) RecordEventDropped(topic string) {
	if !m.enabled {
		return
	}
	m.eventbusDropped.WithLabelValues(topic).Inc()
}
