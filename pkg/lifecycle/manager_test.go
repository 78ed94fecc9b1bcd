package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *registry.Store {
	t.Helper()
	return registry.New(eventbus.New(16), "node-a")
}

func registerAndAge(t *testing.T, store *registry.Store, leaseDuration time.Duration, initialStatus registry.Status) {
	t.Helper()
	reg := registry.ServiceRegistration{
		ServiceID:     "s",
		InstanceID:    "i",
		Host:          "127.0.0.1",
		Port:          9000,
		LeaseDuration: leaseDuration,
	}
	_, err := store.Register(reg)
	require.NoError(t, err)

	if initialStatus == registry.StatusUp {
		_, err := store.Renew("s", "i")
		require.NoError(t, err)
	} else if initialStatus != registry.StatusStarting {
		_, err := store.UpdateStatus("s", "i", initialStatus, "test setup")
		require.NoError(t, err)
	}
}

// The policy tests pass a chosen heartbeat age to policy() directly
// rather than rewinding LastHeartbeat or sleeping, for determinism.
func TestPolicyTransitionsUpToDownPastThreshold(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{}, nil)
	require.NoError(t, err)

	inst := registry.ServiceInstance{Status: registry.StatusUp, LeaseDuration: 2 * time.Second}
	decision := m.policy(inst, 3*time.Second)
	assert.Equal(t, registry.ExpiryTransitionDown, decision)

	decision = m.policy(inst, time.Second)
	assert.Equal(t, registry.ExpiryNone, decision)
}

func TestPolicyTransitionsDownToUnknownPast2xThreshold(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{}, nil)
	require.NoError(t, err)

	inst := registry.ServiceInstance{Status: registry.StatusDown, LeaseDuration: 2 * time.Second}
	assert.Equal(t, registry.ExpiryNone, m.policy(inst, 3*time.Second))
	assert.Equal(t, registry.ExpiryTransitionUnknown, m.policy(inst, 5*time.Second))
}

func TestPolicyDoesNotAutoDeregisterByDefault(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{}, nil)
	require.NoError(t, err)

	inst := registry.ServiceInstance{Status: registry.StatusUnknown, LeaseDuration: time.Second}
	decision := m.policy(inst, time.Hour)
	assert.Equal(t, registry.ExpiryNone, decision)
}

func TestPolicyAutoDeregistersWhenEnabled(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{AutoDeregisterOnExpiry: true}, nil)
	require.NoError(t, err)

	inst := registry.ServiceInstance{Status: registry.StatusUnknown, LeaseDuration: time.Second}
	assert.Equal(t, registry.ExpiryNone, m.policy(inst, 2*time.Second))
	assert.Equal(t, registry.ExpiryDeregister, m.policy(inst, 4*time.Second))
}

func TestScanNowAppliesTransitionsEndToEnd(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{}, nil)
	require.NoError(t, err)

	registerAndAge(t, store, 10*time.Millisecond, registry.StatusUp)
	time.Sleep(30 * time.Millisecond)

	m.ScanNow()

	inst := store.GetInstance("s", "i")
	require.NotNil(t, inst)
	assert.Equal(t, registry.StatusDown, inst.Status)
}

func TestStartStopIsIdempotentAndBounded(t *testing.T) {
	store := newTestStore(t)
	m, err := New(store, Config{ScanInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx)) // second Start is a no-op

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	require.NoError(t, m.Stop(stopCtx)) // second Stop is a no-op
}

func TestNewRejectsNilStore(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}
