package metrics

import "github.com/prometheus/client_golang/prometheus"

// initClusterSyncMetrics initializes cluster replication metrics.
func (m *Manager) initClusterSyncMetrics() {
	m.clustersyncOutbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clustersync_outbound_total",
			Help: "Total outbound replication deliveries by peer and outcome",
		},
		[]string{"peer_node_id", "outcome"},
	)

	m.registry.MustRegister(m.clustersyncOutbound)
}

// RecordClusterSyncDelivery records one outbound replication attempt to a
// peer ("delivered" or "failed").
func (m *Manager) RecordClusterSyncDelivery(peerNodeID, outcome string) {
	if !m.enabled {
		return
	}
	m.clustersyncOutbound.WithLabelValues(peerNodeID, outcome).Inc()
}
