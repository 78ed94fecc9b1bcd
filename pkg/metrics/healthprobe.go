package metrics

import "github.com/prometheus/client_golang/prometheus"

// initHealthProbeMetrics initializes health probe engine metrics.
func (m *Manager) initHealthProbeMetrics(cfg Config) {
	m.healthprobeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthprobe_duration_seconds",
			Help:    "Duration of a single health probe attempt",
			Buckets: cfg.HealthProbeDurationBuckets,
		},
		[]string{"check_type", "result"},
	)

	m.healthprobeExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthprobe_executions_total",
			Help: "Total health probe executions by check type and result",
		},
		[]string{"check_type", "result"},
	)

	m.registry.MustRegister(m.healthprobeDuration)
	m.registry.MustRegister(m.healthprobeExecutions)
}

// RecordHealthProbe records one probe attempt's duration and outcome
// ("healthy" or "unhealthy").
func (m *Manager) RecordHealthProbe(checkType, result string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.healthprobeDuration.WithLabelValues(checkType, result).Observe(durationSeconds)
	m.healthprobeExecutions.WithLabelValues(checkType, result).Inc()
}
