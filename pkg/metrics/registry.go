package metrics

import "github.com/prometheus/client_golang/prometheus"

// initRegistryMetrics initializes registry store metrics.
func (m *Manager) initRegistryMetrics(cfg Config) {
	m.registryInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_instances_total",
			Help: "Current number of registered instances by service id and status",
		},
		[]string{"service_id", "status"},
	)

	m.registryHeartbeatAge = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_heartbeat_age_seconds",
			Help:    "Age of the most recent heartbeat at the time it was recorded",
			Buckets: cfg.HeartbeatAgeBuckets,
		},
		[]string{"service_id"},
	)

	m.registryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_operations_total",
			Help: "Total registry store operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.registry.MustRegister(m.registryInstances)
	m.registry.MustRegister(m.registryHeartbeatAge)
	m.registry.MustRegister(m.registryOperations)
}

// SetInstanceCount sets the current gauge value for one (service, status) pair.
func (m *Manager) SetInstanceCount(serviceID, status string, count int) {
	if !m.enabled {
		return
	}
	m.registryInstances.WithLabelValues(serviceID, status).Set(float64(count))
}

// ObserveHeartbeatAge records the age of a heartbeat at the moment it was renewed.
func (m *Manager) ObserveHeartbeatAge(serviceID string, ageSeconds float64) {
	if !m.enabled {
		return
	}
	m.registryHeartbeatAge.WithLabelValues(serviceID).Observe(ageSeconds)
}

// RecordRegistryOperation records one store operation and its outcome
// ("ok", "rejected", "not_found").
func (m *Manager) RecordRegistryOperation(operation, outcome string) {
	if !m.enabled {
		return
	}
	m.registryOperations.WithLabelValues(operation, outcome).Inc()
}
