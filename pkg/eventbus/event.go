// Package eventbus fans service-registry change events out to local
// discovery watchers and the cluster replicator.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of change a ServiceEvent carries.
type EventType string

const (
	EventRegister     EventType = "REGISTER"
	EventDeregister   EventType = "DEREGISTER"
	EventRenew        EventType = "RENEW"
	EventStatusChange EventType = "STATUS_CHANGE"
)

// InstanceSnapshot is the minimal instance view carried on an event.
// It is intentionally decoupled from pkg/registry's ServiceInstance so
// that eventbus has no dependency on the store package; registry
// converts its instances to this shape when publishing.
type InstanceSnapshot struct {
	ServiceID     string            `json:"serviceId"`
	InstanceID    string            `json:"instanceId"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Secure        bool              `json:"secure"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Registered    time.Time         `json:"registrationTime"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
}

// ServiceEvent is the immutable record of a registry state change.
type ServiceEvent struct {
	EventID      string            `json:"eventId"`
	Type         EventType         `json:"type"`
	ServiceID    string            `json:"serviceId"`
	InstanceID   string            `json:"instanceId"`
	Instance     *InstanceSnapshot `json:"instance,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	OriginNodeID string            `json:"originNodeId"`
}

// NewEvent builds a ServiceEvent with a freshly generated event id and
// the current UTC timestamp.
func NewEvent(eventType EventType, serviceID, instanceID, originNodeID string, instance *InstanceSnapshot) ServiceEvent {
	return ServiceEvent{
		EventID:      uuid.NewString(),
		Type:         eventType,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		Instance:     instance,
		Timestamp:    time.Now().UTC(),
		OriginNodeID: originNodeID,
	}
}

// AllServicesTopic is the synthetic topic that receives every event
// regardless of service id, used by cluster replication and the
// catalog-wide SSE/WS streams.
const AllServicesTopic = ""
