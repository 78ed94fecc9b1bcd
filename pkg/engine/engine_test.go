package engine

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsc/registry-server/pkg/healthprobe"
	"github.com/hsc/registry-server/pkg/registry"
)

func splitTestServer(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestNewRejectsEmptyNodeID(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestStartStopWithoutClusteringIsIdempotentAndBounded(t *testing.T) {
	e, err := New(Config{NodeID: "node-a", Host: "localhost", Port: 9000}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	assert.True(t, e.IsReady())
	assert.True(t, e.IsHealthy())
	assert.False(t, e.GetStatus().Clustering)
	assert.Nil(t, e.Cluster())
	assert.Nil(t, e.ClusterSync())

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	require.NoError(t, e.Stop(stopCtx))
	assert.False(t, e.IsReady())
	assert.False(t, e.IsHealthy())
}

func TestRegisterDiscoverRoundTrip(t *testing.T) {
	e, err := New(Config{NodeID: "node-a", Host: "localhost", Port: 9000}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	_, err = e.Store().Register(registry.ServiceRegistration{
		ServiceID: "catalog", InstanceID: "c-1", Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)

	view, err := e.Discovery().Discover("catalog")
	require.NoError(t, err)
	assert.Len(t, view.Instances, 1)
}

func TestHealthProbeStatusUpdateFlowsThroughToStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(Config{
		NodeID: "node-a", Host: "localhost", Port: 9000,
		HealthProbe: healthprobe.Config{ReconcileInterval: 20 * time.Millisecond},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	host, port := splitTestServer(t, srv)
	_, err = e.Store().Register(registry.ServiceRegistration{
		ServiceID: "catalog", InstanceID: "c-1", Host: host, Port: port,
		HealthCheck: &registry.HealthCheckConfig{Enabled: true, Path: "/", Interval: 20 * time.Millisecond, Timeout: time.Second, RetryCount: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		inst := e.Store().GetInstance("catalog", "c-1")
		return inst != nil && inst.Status == registry.StatusUp
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartWithClusteringWiresManagerAndSyncer(t *testing.T) {
	e, err := New(Config{
		NodeID: "node-a", Host: "localhost", Port: 9000,
		Cluster: &ClusterConfig{},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	require.NotNil(t, e.Cluster())
	require.NotNil(t, e.ClusterSync())
	assert.True(t, e.GetStatus().Clustering)
}
