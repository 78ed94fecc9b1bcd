package registry

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/logger"
)

// Store is the canonical in-memory registry: the only writer of instance
// state, indexed by serviceId -> instanceId -> ServiceInstance. All
// mutating operations serialize on a single store-wide lock; reads return
// deep copies so callers can iterate without racing a concurrent writer.
type Store struct {
	mu       sync.RWMutex
	services map[string]map[string]*ServiceInstance
	history  map[string][]StatusHistoryEntry // "serviceId/instanceId" -> history
	closed   bool

	bus    *eventbus.Bus
	nodeID string
	log    logger.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the default no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty registry store. bus receives REGISTER, DEREGISTER,
// RENEW, and STATUS_CHANGE events tagged with nodeID as originNodeId.
func New(bus *eventbus.Bus, nodeID string, opts ...Option) *Store {
	s := &Store{
		services: make(map[string]map[string]*ServiceInstance),
		history:  make(map[string][]StatusHistoryEntry),
		bus:      bus,
		nodeID:   nodeID,
		log:      logger.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func historyKey(serviceID, instanceID string) string {
	return serviceID + "/" + instanceID
}

func (s *Store) publish(evt eventbus.ServiceEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}

func snapshotOf(inst *ServiceInstance) *eventbus.InstanceSnapshot {
	if inst == nil {
		return nil
	}
	md := make(map[string]string, len(inst.Metadata))
	for k, v := range inst.Metadata {
		md[k] = v
	}
	return &eventbus.InstanceSnapshot{
		ServiceID:     inst.ServiceID,
		InstanceID:    inst.InstanceID,
		Host:          inst.Host,
		Port:          inst.Port,
		Secure:        inst.Secure,
		Status:        string(inst.Status),
		Metadata:      md,
		Registered:    inst.RegistrationTime,
		LastHeartbeat: inst.LastHeartbeat,
	}
}

func instanceFromSnapshot(snap *eventbus.InstanceSnapshot) ServiceInstance {
	md := make(map[string]string, len(snap.Metadata))
	for k, v := range snap.Metadata {
		md[k] = v
	}
	return ServiceInstance{
		ServiceID:        snap.ServiceID,
		InstanceID:       snap.InstanceID,
		Host:             snap.Host,
		Port:             snap.Port,
		Secure:           snap.Secure,
		Status:           Status(snap.Status),
		Metadata:         md,
		RegistrationTime: snap.Registered,
		LastHeartbeat:    snap.LastHeartbeat,
	}
}

// ValidateRegistration checks a ServiceRegistration's identity, host and
// port fields, returning a *ValidationError describing the first problem
// found.
func ValidateRegistration(reg ServiceRegistration) error {
	if !ValidIdentity(reg.ServiceID) {
		return &ValidationError{Field: "serviceId", Message: "must match [A-Za-z0-9._-]+", Value: reg.ServiceID}
	}
	if !ValidIdentity(reg.InstanceID) {
		return &ValidationError{Field: "instanceId", Message: "must match [A-Za-z0-9._-]+", Value: reg.InstanceID}
	}
	if !validHost(reg.Host) {
		return &ValidationError{Field: "host", Message: "must be an IPv4 literal, DNS name, or localhost", Value: reg.Host}
	}
	if reg.Port < 1 || reg.Port > 65535 {
		return &ValidationError{Field: "port", Message: "must be in range 1..65535", Value: reg.Port}
	}
	return nil
}

// validHost accepts an IPv4 literal, "localhost", or a DNS-shaped name.
func validHost(host string) bool {
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4() != nil
	}
	if strings.ContainsAny(host, " \t/\\") {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return false
		}
	}
	return true
}

// Register inserts or replaces the instance identified by
// (serviceId, instanceId). RegistrationTime is set on first insert and
// preserved across replacement; LastHeartbeat is always advanced to now.
func (s *Store) Register(reg ServiceRegistration) (ServiceInstance, error) {
	if err := ValidateRegistration(reg); err != nil {
		return ServiceInstance{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ServiceInstance{}, &StoreClosedError{}
	}

	now := time.Now().UTC()
	inst := reg.toInstance(now)

	bucket, ok := s.services[reg.ServiceID]
	if !ok {
		bucket = make(map[string]*ServiceInstance)
		s.services[reg.ServiceID] = bucket
	}
	if existing, ok := bucket[reg.InstanceID]; ok {
		inst.RegistrationTime = existing.RegistrationTime
	}

	stored := inst.clone()
	bucket[reg.InstanceID] = &stored
	result := stored.clone()

	// publish while still holding the lock: Publish only touches the
	// bus's own mutex and never calls back into the store, and holding
	// s.mu across it is what keeps concurrent mutations and their
	// events in the same relative order.
	s.publish(eventbus.NewEvent(eventbus.EventRegister, reg.ServiceID, reg.InstanceID, s.nodeID, snapshotOf(&stored)))
	s.mu.Unlock()

	s.log.Info("instance registered", "serviceId", reg.ServiceID, "instanceId", reg.InstanceID, "host", reg.Host, "port", reg.Port)
	return result, nil
}

// Deregister removes the named instance. It is idempotent: removing an
// instance that does not exist succeeds silently and emits no event.
func (s *Store) Deregister(serviceID, instanceID string) (*ServiceInstance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &StoreClosedError{}
	}

	bucket, ok := s.services[serviceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	removed, ok := bucket[instanceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	delete(bucket, instanceID)
	if len(bucket) == 0 {
		delete(s.services, serviceID)
	}
	delete(s.history, historyKey(serviceID, instanceID))
	snap := removed.clone()

	s.publish(eventbus.NewEvent(eventbus.EventDeregister, serviceID, instanceID, s.nodeID, snapshotOf(&snap)))
	s.mu.Unlock()

	s.log.Info("instance deregistered", "serviceId", serviceID, "instanceId", instanceID)
	return &snap, nil
}

// Renew advances the instance's heartbeat. If the instance was DOWN,
// UNKNOWN, or STARTING it transitions to UP (subject to the state
// machine) and a STATUS_CHANGE event is emitted before the RENEW event.
// Returns nil, nil when the instance is unknown.
func (s *Store) Renew(serviceID, instanceID string) (*ServiceInstance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &StoreClosedError{}
	}

	bucket, ok := s.services[serviceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	inst, ok := bucket[instanceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}

	now := time.Now().UTC()
	inst.LastHeartbeat = now

	var statusChanged bool
	prev := inst.Status
	if prev == StatusDown || prev == StatusUnknown || prev == StatusStarting {
		if allowedTransition(prev, StatusUp) {
			inst.Status = StatusUp
			statusChanged = true
			s.recordHistoryLocked(serviceID, instanceID, prev, StatusUp, "Heartbeat renewed")
		}
	}

	snap := inst.clone()

	if statusChanged {
		s.publish(eventbus.NewEvent(eventbus.EventStatusChange, serviceID, instanceID, s.nodeID, snapshotOf(&snap)))
	}
	s.publish(eventbus.NewEvent(eventbus.EventRenew, serviceID, instanceID, s.nodeID, snapshotOf(&snap)))
	s.mu.Unlock()

	if statusChanged {
		s.log.Info("instance status changed", "serviceId", serviceID, "instanceId", instanceID, "from", prev, "to", StatusUp, "reason", "Heartbeat renewed")
	}
	return &snap, nil
}

// UpdateStatus attempts to move the instance to newStatus. Transitions
// outside the allowed matrix are rejected as a no-op: logged at warn, no
// mutation, no event. Returns the updated snapshot, or the unchanged
// snapshot when newStatus equals the current status; returns nil with no
// error when the transition is rejected or the instance is unknown.
func (s *Store) UpdateStatus(serviceID, instanceID string, newStatus Status, reason string) (*ServiceInstance, error) {
	if !newStatus.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unrecognized status", Value: newStatus}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &StoreClosedError{}
	}

	bucket, ok := s.services[serviceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	inst, ok := bucket[instanceID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}

	prev := inst.Status
	if prev == newStatus {
		snap := inst.clone()
		s.mu.Unlock()
		return &snap, nil
	}
	if !allowedTransition(prev, newStatus) {
		s.mu.Unlock()
		s.log.Warn("rejected status transition", "serviceId", serviceID, "instanceId", instanceID, "from", prev, "to", newStatus, "reason", reason)
		return nil, nil
	}

	inst.Status = newStatus
	if newStatus == StatusUp {
		inst.LastHeartbeat = time.Now().UTC()
	}
	s.recordHistoryLocked(serviceID, instanceID, prev, newStatus, reason)
	snap := inst.clone()

	s.publish(eventbus.NewEvent(eventbus.EventStatusChange, serviceID, instanceID, s.nodeID, snapshotOf(&snap)))
	s.mu.Unlock()

	s.log.Info("instance status changed", "serviceId", serviceID, "instanceId", instanceID, "from", prev, "to", newStatus, "reason", reason)
	return &snap, nil
}

// ApplyReplicatedEvent applies a peer-originated ServiceEvent directly to
// local state and republishes it unchanged (preserving OriginNodeID) so
// local watchers observe it exactly once. Because the republished event
// still carries the peer's origin id rather than this node's, a sync
// dispatcher watching the bus can distinguish it from a locally-originated
// event and skip forwarding it back out (loop suppression).
func (s *Store) ApplyReplicatedEvent(evt eventbus.ServiceEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &StoreClosedError{}
	}

	switch evt.Type {
	case eventbus.EventDeregister:
		bucket := s.services[evt.ServiceID]
		if bucket != nil {
			delete(bucket, evt.InstanceID)
			if len(bucket) == 0 {
				delete(s.services, evt.ServiceID)
			}
		}
		delete(s.history, historyKey(evt.ServiceID, evt.InstanceID))
	default:
		if evt.Instance == nil {
			s.mu.Unlock()
			return &ValidationError{Field: "instance", Message: "replicated event missing instance snapshot", Value: evt.EventID}
		}
		inst := instanceFromSnapshot(evt.Instance)
		bucket, ok := s.services[evt.ServiceID]
		if !ok {
			bucket = make(map[string]*ServiceInstance)
			s.services[evt.ServiceID] = bucket
		}
		bucket[evt.InstanceID] = &inst
	}

	s.publish(evt)
	s.mu.Unlock()

	s.log.Info("replicated event applied", "type", evt.Type, "serviceId", evt.ServiceID, "instanceId", evt.InstanceID, "originNodeId", evt.OriginNodeID)
	return nil
}

func (s *Store) recordHistoryLocked(serviceID, instanceID string, from, to Status, reason string) {
	key := historyKey(serviceID, instanceID)
	s.history[key] = append(s.history[key], StatusHistoryEntry{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// History returns the status transition history for an instance, oldest
// first. Empty when the instance is unknown or has never transitioned.
func (s *Store) History(serviceID, instanceID string) []StatusHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[historyKey(serviceID, instanceID)]
	out := make([]StatusHistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// GetInstance returns a copy of one instance, or nil if unknown.
func (s *Store) GetInstance(serviceID, instanceID string) *ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.services[serviceID]
	if !ok {
		return nil
	}
	inst, ok := bucket[instanceID]
	if !ok {
		return nil
	}
	snap := inst.clone()
	return &snap
}

// GetInstances returns every instance of serviceID, in no particular order.
func (s *Store) GetInstances(serviceID string) []ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.services[serviceID]
	out := make([]ServiceInstance, 0, len(bucket))
	for _, inst := range bucket {
		out = append(out, inst.clone())
	}
	return out
}

// GetHealthyInstances returns only the UP instances of serviceID.
func (s *Store) GetHealthyInstances(serviceID string) []ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.services[serviceID]
	out := make([]ServiceInstance, 0, len(bucket))
	for _, inst := range bucket {
		if inst.Status.IsHealthy() {
			out = append(out, inst.clone())
		}
	}
	return out
}

// GetServices returns the set of registered service ids.
func (s *Store) GetServices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.services))
	for id := range s.services {
		out = append(out, id)
	}
	return out
}

// GetAllInstances returns every instance of every service, keyed by
// serviceId.
func (s *Store) GetAllInstances() map[string][]ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]ServiceInstance, len(s.services))
	for id, bucket := range s.services {
		list := make([]ServiceInstance, 0, len(bucket))
		for _, inst := range bucket {
			list = append(list, inst.clone())
		}
		out[id] = list
	}
	return out
}

// ExpiryDecision is returned by an ExpiryPolicy for one stale instance.
type ExpiryDecision int

const (
	// ExpiryNone leaves the instance untouched.
	ExpiryNone ExpiryDecision = iota
	// ExpiryTransitionDown moves the instance to DOWN ("Heartbeat timeout").
	ExpiryTransitionDown
	// ExpiryTransitionUnknown moves the instance to UNKNOWN ("Long time no heartbeat").
	ExpiryTransitionUnknown
	// ExpiryDeregister removes the instance outright.
	ExpiryDeregister
)

// ExpiryPolicy decides what to do with an instance given its current age
// relative to its lease threshold. pkg/lifecycle supplies the concrete
// policy; the store only needs to apply the verdict.
type ExpiryPolicy func(inst ServiceInstance, age time.Duration) ExpiryDecision

// CleanupExpired scans every instance, asks policy what to do based on
// its heartbeat age, and applies the verdict. It returns the number of
// instances removed (not counting status-only transitions).
func (s *Store) CleanupExpired(policy ExpiryPolicy) int {
	type action struct {
		serviceID, instanceID string
		decision              ExpiryDecision
	}

	now := time.Now().UTC()
	s.mu.RLock()
	var actions []action
	for serviceID, bucket := range s.services {
		for instanceID, inst := range bucket {
			age := now.Sub(inst.LastHeartbeat)
			decision := policy(inst.clone(), age)
			if decision != ExpiryNone {
				actions = append(actions, action{serviceID, instanceID, decision})
			}
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, a := range actions {
		switch a.decision {
		case ExpiryTransitionDown:
			s.UpdateStatus(a.serviceID, a.instanceID, StatusDown, "Heartbeat timeout")
		case ExpiryTransitionUnknown:
			s.UpdateStatus(a.serviceID, a.instanceID, StatusUnknown, "Long time no heartbeat")
		case ExpiryDeregister:
			if _, err := s.Deregister(a.serviceID, a.instanceID); err == nil {
				removed++
			}
		}
	}
	return removed
}

// Clear removes every instance without emitting events, for test setup.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = make(map[string]map[string]*ServiceInstance)
	s.history = make(map[string][]StatusHistoryEntry)
}

// IsHealthy reports whether the store is accepting operations.
func (s *Store) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Shutdown marks the store closed; subsequent mutating calls fail with
// *StoreClosedError.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
