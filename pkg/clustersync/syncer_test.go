package clustersync

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsc/registry-server/pkg/cluster"
	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/registry"
)

func peerFromServer(t *testing.T, nodeID string, srv *httptest.Server) cluster.ClusterNode {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return cluster.ClusterNode{NodeID: nodeID, Host: host, Port: port, Status: cluster.NodeUp}
}

func TestDispatchForwardsLocallyOriginatedEventsToUpPeers(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt eventbus.ServiceEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&evt))
		assert.Equal(t, "node-a", evt.OriginNodeID)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	peer := peerFromServer(t, "node-b", srv)

	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	peers := func() []cluster.ClusterNode { return []cluster.ClusterNode{peer} }

	syncer := New(Config{Workers: 2, DispatchRate: 50}, "node-a", store, bus, peers, logger.Global())
	require.NoError(t, syncer.Start(context.Background()))
	defer syncer.Stop(context.Background())

	_, err := store.Register(registry.ServiceRegistration{ServiceID: "catalog", InstanceID: "c-1", Host: "10.0.0.1", Port: 8080})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return received.Load() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatchSkipsReplicatedEvents(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	peer := peerFromServer(t, "node-b", srv)

	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	peers := func() []cluster.ClusterNode { return []cluster.ClusterNode{peer} }

	syncer := New(Config{Workers: 2, DispatchRate: 50}, "node-a", store, bus, peers, logger.Global())
	require.NoError(t, syncer.Start(context.Background()))
	defer syncer.Stop(context.Background())

	evt := eventbus.NewEvent(eventbus.EventRegister, "catalog", "c-2", "node-b", &eventbus.InstanceSnapshot{
		ServiceID: "catalog", InstanceID: "c-2", Host: "10.0.0.2", Port: 9090, Status: "UP",
	})
	require.NoError(t, syncer.HandleClusterEvent(evt, "node-b"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatchSkipsDownPeers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	peer := peerFromServer(t, "node-b", srv)
	peer.Status = cluster.NodeDown

	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	peers := func() []cluster.ClusterNode { return []cluster.ClusterNode{peer} }

	syncer := New(Config{Workers: 1, DispatchRate: 50}, "node-a", store, bus, peers, logger.Global())
	require.NoError(t, syncer.Start(context.Background()))
	defer syncer.Stop(context.Background())

	_, err := store.Register(registry.ServiceRegistration{ServiceID: "catalog", InstanceID: "c-1", Host: "10.0.0.1", Port: 8080})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestHandleClusterEventMergesIntoStore(t *testing.T) {
	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	syncer := New(Config{}, "node-a", store, bus, func() []cluster.ClusterNode { return nil }, logger.Global())

	evt := eventbus.NewEvent(eventbus.EventRegister, "catalog", "c-9", "", &eventbus.InstanceSnapshot{
		ServiceID: "catalog", InstanceID: "c-9", Host: "10.0.0.9", Port: 9999, Status: "UP",
	})
	require.NoError(t, syncer.HandleClusterEvent(evt, "node-b"))

	inst := store.GetInstance("catalog", "c-9")
	require.NotNil(t, inst)
	assert.Equal(t, registry.StatusUp, inst.Status)
}

func TestStatsTracksSentAndFailedDeliveries(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	okPeer := peerFromServer(t, "node-ok", ok)
	badPeer := peerFromServer(t, "node-bad", bad)

	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	peers := func() []cluster.ClusterNode { return []cluster.ClusterNode{okPeer, badPeer} }

	syncer := New(Config{Workers: 2, DispatchRate: 50}, "node-a", store, bus, peers, logger.Global())
	require.NoError(t, syncer.Start(context.Background()))
	defer syncer.Stop(context.Background())

	_, err := store.Register(registry.ServiceRegistration{ServiceID: "catalog", InstanceID: "c-1", Host: "10.0.0.1", Port: 8080})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats := syncer.Stats()
		return stats.Sent >= 1 && stats.Failed >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartStopIsIdempotentAndBounded(t *testing.T) {
	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	syncer := New(Config{}, "node-a", store, bus, func() []cluster.ClusterNode { return nil }, logger.Global())

	ctx := context.Background()
	require.NoError(t, syncer.Start(ctx))
	require.NoError(t, syncer.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, syncer.Stop(stopCtx))
	require.NoError(t, syncer.Stop(stopCtx))
}

func TestConcurrentHandleClusterEventIsRaceFree(t *testing.T) {
	bus := eventbus.New(16)
	store := registry.New(bus, "node-a")
	syncer := New(Config{}, "node-a", store, bus, func() []cluster.ClusterNode { return nil }, logger.Global())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			evt := eventbus.NewEvent(eventbus.EventRegister, "catalog", "c-x", "node-b", &eventbus.InstanceSnapshot{
				ServiceID: "catalog", InstanceID: "c-x", Host: "10.0.0.1", Port: 8080, Status: "UP",
			})
			_ = syncer.HandleClusterEvent(evt, "node-b")
		}(i)
	}
	wg.Wait()
	assert.NotNil(t, store.GetInstance("catalog", "c-x"))
}
