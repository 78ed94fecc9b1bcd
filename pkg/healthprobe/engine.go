package healthprobe

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/hsc/registry-server/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	// DefaultReconcileInterval is the cadence of the scheduled-probe
	// reconciliation sync.
	DefaultReconcileInterval = 60 * time.Second
	// defaultDispatchRate bounds how many probes can be handed to the
	// worker pool per second, independent of how many instances are
	// scheduled.
	defaultDispatchRate = 200
)

// Config configures the probe engine.
type Config struct {
	// Workers is the size of the bounded probe worker pool. Defaults to
	// a small number on the order of available CPUs.
	Workers int
	// ReconcileInterval is the cadence of the drift-repair sync. Defaults
	// to 60s.
	ReconcileInterval time.Duration
	// DispatchRate bounds outbound probe dispatch, in probes/second.
	// Defaults to 200.
	DispatchRate float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkerCount()
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.DispatchRate <= 0 {
		c.DispatchRate = defaultDispatchRate
	}
	return c
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

type schedule struct {
	target ProbeTarget
	cancel context.CancelFunc
}

// Engine schedules a periodic probe per instance with enabled health
// checks and runs them on a bounded worker pool, retrying transport
// failures per the target's RetryCount and reporting verdict changes
// through a StatusUpdateFunc supplied at construction.
type Engine struct {
	cfg       Config
	log       logger.Logger
	client    *http.Client
	onVerdict StatusUpdateFunc
	lister    Lister

	limiter *rate.Limiter

	mu         sync.Mutex
	schedules  map[string]*schedule
	lastStatus map[string]bool // key -> last reported healthy verdict

	taskCh  chan ProbeTarget
	wg      sync.WaitGroup
	running bool
	stopCh  chan struct{}

	broadcaster *broadcaster
}

// New creates a probe engine. onVerdict is invoked whenever a verdict
// differs from the last one reported for that instance; lister backs
// the periodic reconciliation sync.
func New(cfg Config, onVerdict StatusUpdateFunc, lister Lister, log logger.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Global()
	}
	return &Engine{
		cfg:         cfg,
		log:         log,
		client:      &http.Client{},
		onVerdict:   onVerdict,
		lister:      lister,
		limiter:     rate.NewLimiter(rate.Limit(cfg.DispatchRate), int(cfg.DispatchRate)),
		schedules:   make(map[string]*schedule),
		lastStatus:  make(map[string]bool),
		taskCh:      make(chan ProbeTarget),
		broadcaster: newBroadcaster(),
	}
}

// Start launches the worker pool and the reconciliation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	e.wg.Add(1)
	go e.reconcileLoop(ctx)
	return nil
}

// Stop cancels every scheduled probe and stops the worker pool.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	for key, sch := range e.schedules {
		sch.cancel()
		delete(e.schedules, key)
	}
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule installs (or replaces) the periodic probe for target.
// Calling it twice for the same instance cancels the prior schedule.
func (e *Engine) Schedule(target ProbeTarget) {
	if !target.HealthCheck.Enabled {
		e.Cancel(target.ServiceID, target.InstanceID)
		return
	}

	key := target.key()

	e.mu.Lock()
	if existing, ok := e.schedules[key]; ok {
		existing.cancel()
	}
	probeCtx, cancel := context.WithCancel(context.Background())
	e.schedules[key] = &schedule{target: target, cancel: cancel}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.scheduleLoop(probeCtx, target)
}

// Cancel stops and removes the schedule for an instance. A no-op if the
// instance has no active schedule.
func (e *Engine) Cancel(serviceID, instanceID string) {
	key := serviceID + "/" + instanceID
	e.mu.Lock()
	sch, ok := e.schedules[key]
	if ok {
		delete(e.schedules, key)
	}
	delete(e.lastStatus, key)
	e.mu.Unlock()

	if ok {
		sch.cancel()
	}
}

// ScheduledCount reports how many instances currently have an active
// probe schedule, for tests and diagnostics.
func (e *Engine) ScheduledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.schedules)
}

// Verdicts returns a subscription to the health-event stream.
func (e *Engine) Verdicts() *verdictSubscription {
	return e.broadcaster.subscribe()
}

func (e *Engine) scheduleLoop(ctx context.Context, target ProbeTarget) {
	defer e.wg.Done()

	interval := target.HealthCheck.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		select {
		case e.taskCh <- target:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case target := <-e.taskCh:
			e.runAndReport(ctx, target)
		}
	}
}

func (e *Engine) runAndReport(ctx context.Context, target ProbeTarget) {
	verdict := runProbe(ctx, e.client, target)
	verdict.Timestamp = time.Now().UTC()
	e.broadcaster.publish(verdict)

	key := target.key()
	e.mu.Lock()
	last, seen := e.lastStatus[key]
	e.lastStatus[key] = verdict.Healthy
	e.mu.Unlock()

	if seen && last == verdict.Healthy {
		return
	}
	if e.onVerdict != nil {
		e.onVerdict(target.ServiceID, target.InstanceID, verdict.Healthy, e.verdictReason(verdict))
	}
}

func (e *Engine) verdictReason(v Verdict) string {
	if v.Healthy {
		return ""
	}
	if v.Message == "" {
		return "Health check failed"
	}
	return "Health check failed: " + v.Message
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}
		e.reconcile()
	}
}

// reconcile compares the scheduled set against the lister's current
// view, scheduling anything missing and cancelling anything stale.
func (e *Engine) reconcile() {
	if e.lister == nil {
		return
	}
	targets := e.lister()

	wanted := make(map[string]ProbeTarget, len(targets))
	for _, t := range targets {
		if t.HealthCheck.Enabled {
			wanted[t.key()] = t
		}
	}

	e.mu.Lock()
	var toSchedule []ProbeTarget
	for key, target := range wanted {
		if _, ok := e.schedules[key]; !ok {
			toSchedule = append(toSchedule, target)
		}
	}
	var toCancel []string
	for key := range e.schedules {
		if _, ok := wanted[key]; !ok {
			toCancel = append(toCancel, key)
		}
	}
	e.mu.Unlock()

	for _, target := range toSchedule {
		e.Schedule(target)
	}
	for _, key := range toCancel {
		serviceID, instanceID := splitKey(key)
		e.Cancel(serviceID, instanceID)
	}
	if len(toSchedule) > 0 || len(toCancel) > 0 {
		e.log.Debug("probe schedule reconciled", "added", len(toSchedule), "removed", len(toCancel))
	}
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
