// Package healthprobe schedules and runs periodic health checks against
// registered service instances and reports verdicts back to whatever
// owns instance status — decoupled from pkg/registry by design so the
// two packages never need a cyclic handle on each other; the engine's
// owner wires a StatusUpdateFunc callback and a Lister callback at
// construction time instead.
package healthprobe

import "time"

// CheckType selects the probe protocol.
type CheckType string

const (
	CheckHTTP   CheckType = "HTTP"
	CheckTCP    CheckType = "TCP"
	CheckScript CheckType = "SCRIPT"
)

// HealthCheck is the probe configuration carried on a ProbeTarget. It
// mirrors registry.HealthCheckConfig's fields without importing
// pkg/registry.
type HealthCheck struct {
	Enabled    bool
	Type       CheckType
	Path       string
	Interval   time.Duration
	Timeout    time.Duration
	RetryCount int
}

// ProbeTarget is the minimal view of a service instance the probe
// engine needs: enough to dial it and nothing about its registration
// bookkeeping.
type ProbeTarget struct {
	ServiceID   string
	InstanceID  string
	Host        string
	Port        int
	Secure      bool
	HealthCheck HealthCheck
}

// key identifies a schedule slot; an instance can only have one.
func (t ProbeTarget) key() string {
	return t.ServiceID + "/" + t.InstanceID
}

// Verdict is the outcome of one probe run, published on the health-event
// stream (distinct from, but parallel to, the registry's service-event
// bus).
type Verdict struct {
	ServiceID  string
	InstanceID string
	Healthy    bool
	Message    string
	Timestamp  time.Time
}

// StatusUpdateFunc is called when a probe verdict differs from the
// instance's last known status. up is true for a healthy verdict.
type StatusUpdateFunc func(serviceID, instanceID string, up bool, message string)

// Lister returns the current set of probe targets whose health checks
// are enabled, used by the 60s reconciliation sync to repair drift
// between scheduled probes and the live instance set.
type Lister func() []ProbeTarget
