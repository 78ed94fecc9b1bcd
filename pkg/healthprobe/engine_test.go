package healthprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProbeHealthyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := httpTargetFor(t, srv)
	verdict := runProbe(context.Background(), srv.Client(), target)
	assert.True(t, verdict.Healthy)
}

func TestHTTPProbeUnhealthyOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	target := httpTargetFor(t, srv)
	verdict := runProbe(context.Background(), srv.Client(), target)
	assert.False(t, verdict.Healthy)
}

func TestHTTPProbeSucceedsAfterRetry(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := httpTargetFor(t, srv)
	target.HealthCheck.RetryCount = 3
	verdict := runProbe(context.Background(), srv.Client(), target)
	assert.True(t, verdict.Healthy)
}

func TestScriptProbeAlwaysHealthy(t *testing.T) {
	target := ProbeTarget{
		ServiceID:  "s",
		InstanceID: "i",
		HealthCheck: HealthCheck{
			Enabled: true,
			Type:    CheckScript,
		},
	}
	verdict := runProbe(context.Background(), http.DefaultClient, target)
	assert.True(t, verdict.Healthy)
	assert.Equal(t, "Script check not implemented", verdict.Message)
}

func httpTargetFor(t *testing.T, srv *httptest.Server) ProbeTarget {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return ProbeTarget{
		ServiceID:  "s",
		InstanceID: "i",
		Host:       u.Hostname(),
		Port:       port,
		HealthCheck: HealthCheck{
			Enabled:    true,
			Type:       CheckHTTP,
			Path:       "/",
			Timeout:    time.Second,
			RetryCount: 1,
		},
	}
}

func TestEngineScheduleIsIdempotent(t *testing.T) {
	e := New(Config{Workers: 2}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	target := ProbeTarget{
		ServiceID:  "s",
		InstanceID: "i",
		HealthCheck: HealthCheck{Enabled: true, Type: CheckScript, Interval: time.Hour},
	}
	e.Schedule(target)
	e.Schedule(target)
	assert.Equal(t, 1, e.ScheduledCount())
}

func TestEngineCancelRemovesSchedule(t *testing.T) {
	e := New(Config{Workers: 2}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	target := ProbeTarget{ServiceID: "s", InstanceID: "i", HealthCheck: HealthCheck{Enabled: true, Type: CheckScript, Interval: time.Hour}}
	e.Schedule(target)
	e.Cancel("s", "i")
	assert.Equal(t, 0, e.ScheduledCount())
	e.Cancel("s", "i") // no-op on unknown
}

func TestEngineReportsVerdictChangeOnly(t *testing.T) {
	var calls []bool
	var mu sync.Mutex
	onVerdict := func(serviceID, instanceID string, up bool, message string) {
		mu.Lock()
		calls = append(calls, up)
		mu.Unlock()
	}

	e := New(Config{Workers: 2}, onVerdict, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	target := ProbeTarget{
		ServiceID:  "s",
		InstanceID: "i",
		HealthCheck: HealthCheck{Enabled: true, Type: CheckScript, Interval: 10 * time.Millisecond},
	}
	e.Schedule(target)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, calls, 1, "script probe always succeeds so the callback should fire once, on first verdict, never again")
}

func TestEngineReconcileAddsAndRemoves(t *testing.T) {
	var mu sync.Mutex
	targets := []ProbeTarget{
		{ServiceID: "s", InstanceID: "keep", HealthCheck: HealthCheck{Enabled: true, Type: CheckScript, Interval: time.Hour}},
	}
	lister := func() []ProbeTarget {
		mu.Lock()
		defer mu.Unlock()
		out := make([]ProbeTarget, len(targets))
		copy(out, targets)
		return out
	}

	e := New(Config{Workers: 1, ReconcileInterval: 10 * time.Millisecond}, nil, lister, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop(context.Background())

	require.Eventually(t, func() bool {
		return e.ScheduledCount() == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	targets = nil
	mu.Unlock()

	require.Eventually(t, func() bool {
		return e.ScheduledCount() == 0
	}, time.Second, 5*time.Millisecond)
}
