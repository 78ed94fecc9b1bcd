// Package lifecycle owns the heartbeat-expiry scanner that drives stale
// service instances through the status state machine: UP instances that
// stop renewing go DOWN, long-stale DOWN instances go UNKNOWN, and
// (opt-in) indefinitely stale instances are auto-deregistered.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/registry"
)

const (
	// DefaultScanInterval is the cadence of the heartbeat expiry scanner.
	DefaultScanInterval = 30 * time.Second
	// unknownAutoDeregisterMultiplier sets how far past the lease threshold an
	// UNKNOWN instance must be before AutoDeregisterOnExpiry removes it.
	unknownAutoDeregisterMultiplier = 3
)

// Config configures the expiry scanner.
type Config struct {
	// ScanInterval is how often the scanner runs. Defaults to 30s.
	ScanInterval time.Duration
	// AutoDeregisterOnExpiry, when true, removes UNKNOWN instances whose
	// last heartbeat is more than 3x their lease threshold old instead of
	// leaving them in place forever. Defaults to false: the scanner only transitions
	// status, never removes, matching the default heartbeat-expiry scenario.
	AutoDeregisterOnExpiry bool
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	return c
}

// Manager runs the heartbeat expiry scan against a registry.Store on a
// fixed cadence, in the spirit of the cluster package's ticker-driven
// lifecycle loops: a single background goroutine, a running flag guarded
// by a mutex, and a cancel func captured at Start time.
type Manager struct {
	store *registry.Store
	cfg   Config
	log   logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an expiry manager bound to store.
func New(store *registry.Store, cfg Config, log logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("lifecycle: store cannot be nil")
	}
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log,
	}, nil
}

// Start launches the scan loop. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.scanLoop(scanCtx)
	return nil
}

// Stop cancels the scan loop and waits up to 10s for it to return, per
// the bounded-shutdown-grace-period requirement on the expiry scanner.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("lifecycle: scan loop did not stop within grace period")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) scanLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed := m.store.CleanupExpired(m.policy)
		if removed > 0 {
			m.log.Info("expiry scan removed stale instances", "count", removed)
		}
	}
}

// policy implements registry.ExpiryPolicy per the state-machine rules in
// the lifecycle & status manager component: UP -> DOWN past threshold,
// DOWN -> UNKNOWN past 2x threshold, and an opt-in UNKNOWN -> removed
// past 3x threshold.
func (m *Manager) policy(inst registry.ServiceInstance, age time.Duration) registry.ExpiryDecision {
	threshold := inst.LeaseDuration
	if threshold <= 0 {
		threshold = registry.DefaultLeaseDuration
	}

	switch inst.Status {
	case registry.StatusUp:
		if age > threshold {
			return registry.ExpiryTransitionDown
		}
	case registry.StatusDown:
		if age > 2*threshold {
			return registry.ExpiryTransitionUnknown
		}
	case registry.StatusUnknown:
		if m.cfg.AutoDeregisterOnExpiry && age > unknownAutoDeregisterMultiplier*threshold {
			return registry.ExpiryDeregister
		}
	}
	return registry.ExpiryNone
}

// ScanNow runs one expiry pass immediately, outside the ticker cadence.
// Used by tests and by the management "cleanup" endpoint.
func (m *Manager) ScanNow() int {
	return m.store.CleanupExpired(m.policy)
}
