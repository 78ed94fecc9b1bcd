// Package engine is the composition root: it owns and wires together
// the event bus, registry store, lifecycle manager, health probe
// engine, discovery view, and (when clustering is enabled) the cluster
// manager and sync replicator. It is the one place the otherwise
// decoupled packages meet — in particular it is what finally wires the
// health probe engine's StatusUpdateFunc/Lister callbacks to the
// registry store, translating between registry.ServiceInstance and
// healthprobe.ProbeTarget so neither package needs a handle on the
// other.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hsc/registry-server/pkg/cluster"
	"github.com/hsc/registry-server/pkg/clustersync"
	"github.com/hsc/registry-server/pkg/discovery"
	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/healthprobe"
	"github.com/hsc/registry-server/pkg/lifecycle"
	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/registry"
)

// state is the engine's lifecycle state.
type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// ClusterConfig enables clustering and configures its two halves. A nil
// *ClusterConfig passed to Config disables clustering entirely: no
// Manager or Syncer is constructed and Engine.Cluster()/ClusterSync()
// return nil.
type ClusterConfig struct {
	Manager cluster.Config
	Sync    clustersync.Config
	Peers   []string
}

// Config configures an Engine.
type Config struct {
	NodeID         string
	Host           string
	Port           int
	EventBusBuffer int
	Lifecycle      lifecycle.Config
	HealthProbe    healthprobe.Config
	Cluster        *ClusterConfig
}

// Engine owns one registry's full component graph for a single process.
type Engine struct {
	cfg   Config
	log   logger.Logger
	state atomic.Int32

	bus           *eventbus.Bus
	store         *registry.Store
	lifecycleMgr  *lifecycle.Manager
	probe         *healthprobe.Engine
	discoveryView *discovery.View
	clusterMgr    *cluster.Manager
	syncer        *clustersync.Syncer
}

// New builds the full component graph without starting any background
// work; call Start to begin serving.
func New(cfg Config, log logger.Logger) (*Engine, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("engine: node id cannot be empty")
	}
	if log == nil {
		log = logger.Global()
	}

	e := &Engine{cfg: cfg, log: log}
	e.state.Store(int32(stateIdle))

	e.bus = eventbus.New(cfg.EventBusBuffer)
	e.store = registry.New(e.bus, cfg.NodeID, registry.WithLogger(log))
	e.discoveryView = discovery.New(e.store, e.bus)

	lifecycleMgr, err := lifecycle.New(e.store, cfg.Lifecycle, log)
	if err != nil {
		return nil, fmt.Errorf("engine: build lifecycle manager: %w", err)
	}
	e.lifecycleMgr = lifecycleMgr

	e.probe = healthprobe.New(cfg.HealthProbe, e.statusUpdate, e.probeTargets, log)

	if cfg.Cluster != nil {
		self := cluster.ClusterNode{NodeID: cfg.NodeID, Host: cfg.Host, Port: cfg.Port}
		clusterMgr, err := cluster.New(cfg.Cluster.Manager, self, cfg.Cluster.Peers, log)
		if err != nil {
			return nil, fmt.Errorf("engine: build cluster manager: %w", err)
		}
		e.clusterMgr = clusterMgr
		e.syncer = clustersync.New(cfg.Cluster.Sync, cfg.NodeID, e.store, e.bus, e.peerLister, log)
	}

	return e, nil
}

// statusUpdate adapts a health probe verdict into a registry status
// transition: UP on a healthy verdict, DOWN otherwise.
func (e *Engine) statusUpdate(serviceID, instanceID string, up bool, message string) {
	status := registry.StatusDown
	if up {
		status = registry.StatusUp
	}
	if _, err := e.store.UpdateStatus(serviceID, instanceID, status, message); err != nil {
		e.log.Warn("health probe status update rejected", "serviceId", serviceID, "instanceId", instanceID, "error", err)
	}
}

// probeTargets adapts the current set of registered instances into the
// probe targets the health probe engine should have scheduled. It backs
// the reconciliation sync's drift repair; the primary scheduling path is
// ScheduleProbe, called directly on registration.
func (e *Engine) probeTargets() []healthprobe.ProbeTarget {
	all := e.store.GetAllInstances()
	var out []healthprobe.ProbeTarget
	for _, instances := range all {
		for _, inst := range instances {
			if !inst.HealthCheck.Enabled {
				continue
			}
			out = append(out, toProbeTarget(inst))
		}
	}
	return out
}

// toProbeTarget adapts a single registry.ServiceInstance into the
// healthprobe package's target shape.
func toProbeTarget(inst registry.ServiceInstance) healthprobe.ProbeTarget {
	return healthprobe.ProbeTarget{
		ServiceID:  inst.ServiceID,
		InstanceID: inst.InstanceID,
		Host:       inst.Host,
		Port:       inst.Port,
		Secure:     inst.Secure,
		HealthCheck: healthprobe.HealthCheck{
			Enabled:    inst.HealthCheck.Enabled,
			Type:       healthprobe.CheckType(inst.HealthCheck.Type),
			Path:       inst.HealthCheck.Path,
			Interval:   inst.HealthCheck.Interval,
			Timeout:    inst.HealthCheck.Timeout,
			RetryCount: inst.HealthCheck.RetryCount,
		},
	}
}

// ScheduleProbe installs the periodic health probe for inst immediately,
// rather than waiting for the next reconciliation sync to notice it. Call
// this on successful registration; it is a no-op when the instance's
// health check is disabled.
func (e *Engine) ScheduleProbe(inst registry.ServiceInstance) {
	if !inst.HealthCheck.Enabled {
		return
	}
	e.probe.Schedule(toProbeTarget(inst))
}

// CancelProbe removes any active probe schedule for the given instance.
// Call this on deregistration so a stale schedule doesn't linger until
// the next reconciliation sync notices the instance is gone.
func (e *Engine) CancelProbe(serviceID, instanceID string) {
	e.probe.Cancel(serviceID, instanceID)
}

// peerLister adapts the cluster membership table into clustersync's
// peer view, for the outbound dispatcher.
func (e *Engine) peerLister() []cluster.ClusterNode {
	if e.clusterMgr == nil {
		return nil
	}
	return e.clusterMgr.Membership().Peers(e.cfg.NodeID)
}

// Start launches every background component. Order matters only in
// that the health probe engine and cluster components start after the
// store they read from is ready, which it always is by construction.
func (e *Engine) Start(ctx context.Context) error {
	if state(e.state.Load()) == stateRunning {
		return fmt.Errorf("engine: already running")
	}

	e.log.Info("starting engine", "nodeId", e.cfg.NodeID)

	if err := e.lifecycleMgr.Start(ctx); err != nil {
		return fmt.Errorf("engine: start lifecycle manager: %w", err)
	}
	if err := e.probe.Start(ctx); err != nil {
		return fmt.Errorf("engine: start health probe engine: %w", err)
	}

	if e.clusterMgr != nil {
		if err := e.clusterMgr.Start(ctx); err != nil {
			return fmt.Errorf("engine: start cluster manager: %w", err)
		}
	}
	if e.syncer != nil {
		if err := e.syncer.Start(ctx); err != nil {
			return fmt.Errorf("engine: start cluster sync: %w", err)
		}
	}

	e.state.Store(int32(stateRunning))
	e.log.Info("engine started", "nodeId", e.cfg.NodeID, "clustering", e.clusterMgr != nil)
	return nil
}

// Stop shuts every background component down, in the reverse order
// they were started, each bounded by its own grace period.
func (e *Engine) Stop(ctx context.Context) error {
	if state(e.state.Load()) != stateRunning {
		return nil
	}
	e.log.Info("stopping engine", "nodeId", e.cfg.NodeID)

	if e.syncer != nil {
		if err := e.syncer.Stop(ctx); err != nil {
			e.log.Warn("error stopping cluster sync", "error", err)
		}
	}
	if e.clusterMgr != nil {
		if err := e.clusterMgr.Stop(ctx); err != nil {
			e.log.Warn("error stopping cluster manager", "error", err)
		}
	}
	if err := e.probe.Stop(ctx); err != nil {
		e.log.Warn("error stopping health probe engine", "error", err)
	}
	if err := e.lifecycleMgr.Stop(ctx); err != nil {
		e.log.Warn("error stopping lifecycle manager", "error", err)
	}

	e.store.Shutdown()
	e.state.Store(int32(stateStopped))
	e.log.Info("engine stopped", "nodeId", e.cfg.NodeID)
	return nil
}

// IsHealthy reports whether the registry store is still accepting
// operations.
func (e *Engine) IsHealthy() bool {
	return e.store.IsHealthy()
}

// IsReady reports whether the engine has completed startup and is
// currently running.
func (e *Engine) IsReady() bool {
	return state(e.state.Load()) == stateRunning
}

// Status is the external-facing engine status snapshot.
type Status struct {
	NodeID     string `json:"nodeId"`
	State      string `json:"state"`
	Clustering bool   `json:"clustering"`
}

// GetStatus returns a point-in-time status snapshot.
func (e *Engine) GetStatus() Status {
	var s string
	switch state(e.state.Load()) {
	case stateIdle:
		s = "idle"
	case stateRunning:
		s = "running"
	case stateStopped:
		s = "stopped"
	default:
		s = "unknown"
	}
	return Status{NodeID: e.cfg.NodeID, State: s, Clustering: e.clusterMgr != nil}
}

// Store returns the registry store, for the registry HTTP handlers.
func (e *Engine) Store() *registry.Store { return e.store }

// Discovery returns the discovery view, for the discovery HTTP handlers.
func (e *Engine) Discovery() *discovery.View { return e.discoveryView }

// Bus returns the event bus, for SSE/WS stream handlers.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Cluster returns the cluster manager, or nil when clustering is
// disabled.
func (e *Engine) Cluster() *cluster.Manager { return e.clusterMgr }

// ClusterSync returns the replication syncer, or nil when clustering is
// disabled.
func (e *Engine) ClusterSync() *clustersync.Syncer { return e.syncer }
