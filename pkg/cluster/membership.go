package cluster

import (
	"fmt"
	"sync"
	"time"
)

// Membership is the shared in-memory node cache. Both the Manager
// (liveness + leader election) and the cluster sync replicator read and
// write through the same Membership instance so they always observe
// the identical node set.
type Membership struct {
	mu    sync.RWMutex
	nodes map[string]*ClusterNode
}

// NewMembership seeds a membership table from the local node and a peer
// list of "host:port" strings.
func NewMembership(self ClusterNode, peers []string) (*Membership, error) {
	m := &Membership{nodes: make(map[string]*ClusterNode)}

	self.Status = NodeUp
	self.LastSeen = time.Now().UTC()
	stored := self.clone()
	m.nodes[self.NodeID] = &stored

	for _, peer := range peers {
		host, port, err := ParsePeer(peer)
		if err != nil {
			return nil, err
		}
		nodeID := peer
		if err := m.AddNode(ClusterNode{
			NodeID: nodeID,
			Host:   host,
			Port:   port,
			Status: NodeUnknown,
		}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddNode validates and inserts (or replaces) a node.
func (m *Membership) AddNode(node ClusterNode) error {
	if node.NodeID == "" {
		return fmt.Errorf("cluster: node id cannot be empty")
	}
	if node.Host == "" {
		return fmt.Errorf("cluster: node %q has empty host", node.NodeID)
	}
	if node.Port < 1 || node.Port > 65535 {
		return fmt.Errorf("cluster: node %q has invalid port %d", node.NodeID, node.Port)
	}
	if node.Status == "" {
		node.Status = NodeUnknown
	}
	if node.LastSeen.IsZero() {
		node.LastSeen = time.Now().UTC()
	}

	stored := node.clone()
	m.mu.Lock()
	m.nodes[node.NodeID] = &stored
	m.mu.Unlock()
	return nil
}

// RemoveNode deletes a node from the table. Removing an unknown node is
// a no-op.
func (m *Membership) RemoveNode(nodeID string) {
	m.mu.Lock()
	delete(m.nodes, nodeID)
	m.mu.Unlock()
}

// MarkStatus updates a node's liveness status and, for UP, its
// lastSeen timestamp. A no-op if the node is not present.
func (m *Membership) MarkStatus(nodeID string, status NodeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	node.Status = status
	if status == NodeUp {
		node.LastSeen = time.Now().UTC()
	}
}

// Get returns a copy of one node, or false if unknown.
func (m *Membership) Get(nodeID string) (ClusterNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[nodeID]
	if !ok {
		return ClusterNode{}, false
	}
	return node.clone(), true
}

// List returns every node, in no particular order.
func (m *Membership) List() []ClusterNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClusterNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.clone())
	}
	return out
}

// Peers returns every node except self.
func (m *Membership) Peers(selfID string) []ClusterNode {
	all := m.List()
	out := make([]ClusterNode, 0, len(all))
	for _, n := range all {
		if n.NodeID != selfID {
			out = append(out, n)
		}
	}
	return out
}
