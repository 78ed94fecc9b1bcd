package cluster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LeadershipState is the current election outcome. LeaderNodeID is
// empty when no node in the healthy set qualifies (including when the
// local node itself is unhealthy and the peer set is empty).
type LeadershipState struct {
	LeaderNodeID string
	IsLeader     bool
	At           time.Time
}

// Elector computes leadership as a pure function of the current healthy
// node set: the UP node with the lexicographically smallest NodeID. There
// is no lease and no vote, so re-election never blocks on network I/O —
// Recompute is called synchronously whenever membership or liveness
// changes and fans the new state out to subscribers, in the same
// publish-to-subscribers shape as a lease-based elector without any of
// the acquire/renew/release plumbing.
type Elector struct {
	selfID string

	mu          sync.RWMutex
	state       LeadershipState
	subscribers map[int]chan LeadershipState
	subSeq      int
}

// NewElector creates an elector for the local node selfID.
func NewElector(selfID string) *Elector {
	return &Elector{
		selfID:      selfID,
		subscribers: make(map[int]chan LeadershipState),
	}
}

// Elect returns the leader node id of the given healthy nodes: the
// lexicographically smallest NodeID among nodes with Status == UP.
// Returns "" if no node is healthy.
func Elect(nodes []ClusterNode) string {
	var healthyIDs []string
	for _, n := range nodes {
		if n.Status == NodeUp {
			healthyIDs = append(healthyIDs, n.NodeID)
		}
	}
	if len(healthyIDs) == 0 {
		return ""
	}
	sort.Strings(healthyIDs)
	return healthyIDs[0]
}

// Recompute re-runs the election against nodes and publishes the
// resulting state to every subscriber. It is idempotent: calling it
// with an unchanged healthy set re-publishes the same leader without
// side effects beyond the publish itself.
func (e *Elector) Recompute(nodes []ClusterNode) LeadershipState {
	leader := Elect(nodes)
	state := LeadershipState{
		LeaderNodeID: leader,
		IsLeader:     leader != "" && leader == e.selfID,
		At:           time.Now().UTC(),
	}

	e.mu.Lock()
	e.state = state
	targets := make([]chan LeadershipState, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- state:
		default:
		}
	}
	return state
}

// State returns the most recently computed leadership state.
func (e *Elector) State() LeadershipState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Subscribe returns a channel of leadership state changes. The channel
// receives the current state immediately, then every subsequent
// Recompute result, until ctx is done.
func (e *Elector) Subscribe(ctx context.Context) <-chan LeadershipState {
	ch := make(chan LeadershipState, 8)

	e.mu.Lock()
	id := e.subSeq
	e.subSeq++
	e.subscribers[id] = ch
	current := e.state
	e.mu.Unlock()

	ch <- current

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		if existing, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(existing)
		}
		e.mu.Unlock()
	}()

	return ch
}
