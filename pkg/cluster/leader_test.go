package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElectPicksLexicographicallySmallestHealthyNode(t *testing.T) {
	nodes := []ClusterNode{
		{NodeID: "node-c", Status: NodeUp},
		{NodeID: "node-a", Status: NodeUp},
		{NodeID: "node-b", Status: NodeDown},
	}
	assert.Equal(t, "node-a", Elect(nodes))
}

func TestElectReturnsEmptyWhenNoHealthyNode(t *testing.T) {
	nodes := []ClusterNode{
		{NodeID: "node-a", Status: NodeDown},
		{NodeID: "node-b", Status: NodeUnknown},
	}
	assert.Equal(t, "", Elect(nodes))
}

func TestRecomputeMarksSelfAsLeader(t *testing.T) {
	e := NewElector("node-a")
	state := e.Recompute([]ClusterNode{
		{NodeID: "node-a", Status: NodeUp},
		{NodeID: "node-b", Status: NodeUp},
	})
	assert.Equal(t, "node-a", state.LeaderNodeID)
	assert.True(t, state.IsLeader)
}

func TestRecomputeMarksPeerAsLeaderWhenSmaller(t *testing.T) {
	e := NewElector("node-b")
	state := e.Recompute([]ClusterNode{
		{NodeID: "node-a", Status: NodeUp},
		{NodeID: "node-b", Status: NodeUp},
	})
	assert.Equal(t, "node-a", state.LeaderNodeID)
	assert.False(t, state.IsLeader)
}

func TestSubscribeReceivesCurrentStateImmediately(t *testing.T) {
	e := NewElector("node-a")
	e.Recompute([]ClusterNode{{NodeID: "node-a", Status: NodeUp}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)

	select {
	case state := <-ch:
		assert.Equal(t, "node-a", state.LeaderNodeID)
	case <-time.After(time.Second):
		t.Fatal("expected immediate current state")
	}
}

func TestSubscribeReceivesSubsequentRecomputes(t *testing.T) {
	e := NewElector("node-a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.Subscribe(ctx)
	<-ch // initial empty state

	e.Recompute([]ClusterNode{{NodeID: "node-a", Status: NodeUp}})

	select {
	case state := <-ch:
		assert.Equal(t, "node-a", state.LeaderNodeID)
	case <-time.After(time.Second):
		t.Fatal("expected a published update")
	}
}

func TestSubscribeChannelClosesOnContextDone(t *testing.T) {
	e := NewElector("node-a")
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Subscribe(ctx)
	<-ch

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after context cancellation")
	}
}
