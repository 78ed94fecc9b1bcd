package cluster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hsc/registry-server/pkg/logger"
)

// DefaultSyncInterval is the default liveness-probe and re-election
// cadence.
const DefaultSyncInterval = 30 * time.Second

// DefaultHealthPath is the peer endpoint liveness is probed against.
const DefaultHealthPath = "/actuator/health"

// Config configures the cluster Manager.
type Config struct {
	ClusterID    string
	SyncInterval time.Duration
	HealthPath   string
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// Manager owns peer membership, liveness monitoring, and leader
// election. The current node always appears UP in its own membership
// table for the lifetime of the process.
type Manager struct {
	cfg     Config
	selfID  string
	members *Membership
	elector *Elector
	client  *http.Client
	log     logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a cluster Manager. self is marked UP immediately and
// peers (a "host:port" list) are seeded UNKNOWN pending their first
// liveness probe.
func New(cfg Config, self ClusterNode, peers []string, log logger.Logger) (*Manager, error) {
	if self.NodeID == "" {
		return nil, fmt.Errorf("cluster: local node id cannot be empty")
	}
	if log == nil {
		log = logger.Global()
	}

	members, err := NewMembership(self, peers)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg.withDefaults(),
		selfID:  self.NodeID,
		members: members,
		elector: NewElector(self.NodeID),
		client:  &http.Client{},
		log:     log,
	}
	m.elector.Recompute(members.List())
	return m, nil
}

// Membership returns the shared node cache, for wiring into cluster
// sync so both components observe the same node set.
func (m *Manager) Membership() *Membership {
	return m.members
}

// Elector returns the leader elector, for handlers that need to
// subscribe to leadership changes.
func (m *Manager) Elector() *Elector {
	return m.elector
}

// AddNode adds or replaces a peer and triggers re-election.
func (m *Manager) AddNode(node ClusterNode) error {
	if err := m.members.AddNode(node); err != nil {
		return err
	}
	m.elector.Recompute(m.members.List())
	return nil
}

// RemoveNode removes a peer and triggers re-election.
func (m *Manager) RemoveNode(nodeID string) {
	m.members.RemoveNode(nodeID)
	m.elector.Recompute(m.members.List())
}

// Status returns the external-facing cluster status snapshot.
func (m *Manager) Status() ClusterStatus {
	nodes := m.members.List()
	healthy := 0
	for _, n := range nodes {
		if n.Status == NodeUp {
			healthy++
		}
	}
	return ClusterStatus{
		ClusterID:    m.cfg.ClusterID,
		Nodes:        nodes,
		CurrentNode:  m.selfID,
		LeaderNodeID: m.elector.State().LeaderNodeID,
		TotalNodes:   len(nodes),
		HealthyNodes: healthy,
	}
}

// NeedsFailover reports whether fewer than a majority of known nodes
// are UP.
func (m *Manager) NeedsFailover() bool {
	nodes := m.members.List()
	if len(nodes) == 0 {
		return false
	}
	healthy := 0
	for _, n := range nodes {
		if n.Status == NodeUp {
			healthy++
		}
	}
	return healthy*2 < len(nodes)
}

// PerformFailover marks failedNodeID DOWN and re-runs leader election.
// It does not redistribute data: the registry state is not sharded.
func (m *Manager) PerformFailover(failedNodeID string) {
	m.members.MarkStatus(failedNodeID, NodeDown)
	m.elector.Recompute(m.members.List())
	m.log.Warn("cluster failover", "failedNodeId", failedNodeID, "leader", m.elector.State().LeaderNodeID)
}

// Start launches the liveness-probe loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.livenessLoop(loopCtx)
	return nil
}

// Stop cancels the liveness loop and waits up to its sync interval for
// it to return.
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
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.SyncInterval):
		return nil
	}
}

func (m *Manager) livenessLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.probeAll(ctx)
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	peers := m.members.Peers(m.selfID)
	var wg sync.WaitGroup
	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeOne(ctx, peer)
		}()
	}
	wg.Wait()
	m.elector.Recompute(m.members.List())
}

func (m *Manager) probeOne(ctx context.Context, peer ClusterNode) {
	url := fmt.Sprintf("http://%s:%d%s", peer.Host, peer.Port, m.cfg.HealthPath)

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		m.members.MarkStatus(peer.NodeID, NodeDown)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.members.MarkStatus(peer.NodeID, NodeDown)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		m.members.MarkStatus(peer.NodeID, NodeUp)
	} else {
		m.members.MarkStatus(peer.NodeID, NodeDown)
	}
}
