// Package clustersync replicates locally-originated registry events to
// peer nodes and merges peer-originated events back into the local
// store. Replication is best-effort: failed deliveries are logged and
// counted, never retried, relying on heartbeat reconciliation to repair
// divergence rather than a durable outbound queue.
package clustersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hsc/registry-server/pkg/cluster"
	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/registry"
)

const (
	// DefaultWorkers is the outbound dispatch worker pool size.
	DefaultWorkers = 4
	// DefaultDispatchRate bounds outbound POSTs per second across all peers.
	DefaultDispatchRate = 100
	// DefaultHTTPTimeout bounds a single peer delivery attempt.
	DefaultHTTPTimeout = 5 * time.Second
	// stopGrace bounds how long Stop waits for in-flight dispatches to drain.
	stopGrace = 5 * time.Second

	eventsPath = "/api/v1/cluster/events"
)

// Config configures a Syncer.
type Config struct {
	Workers      int
	DispatchRate float64
	HTTPTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DispatchRate <= 0 {
		c.DispatchRate = DefaultDispatchRate
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	return c
}

// PeerLister supplies the current set of cluster nodes. The syncer only
// dispatches to nodes with Status == cluster.NodeUp.
type PeerLister func() []cluster.ClusterNode

// dispatchTask pairs an outbound event with the peer it is addressed to.
type dispatchTask struct {
	peer cluster.ClusterNode
	evt  eventbus.ServiceEvent
}

// Syncer is the outbound replication dispatcher and inbound merge point.
type Syncer struct {
	cfg    Config
	selfID string
	store  *registry.Store
	bus    *eventbus.Bus
	peers  PeerLister
	client *http.Client
	log    logger.Logger

	limiter *rate.Limiter
	sub     *eventbus.Subscription
	taskCh  chan dispatchTask

	sent   atomic.Uint64
	failed atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Syncer. store receives inbound merges; bus is watched for
// outbound events and also republished into by ApplyReplicatedEvent via
// store; peers supplies the current cluster membership view.
func New(cfg Config, selfID string, store *registry.Store, bus *eventbus.Bus, peers PeerLister, log logger.Logger) *Syncer {
	if log == nil {
		log = logger.Global()
	}
	cfg = cfg.withDefaults()
	return &Syncer{
		cfg:     cfg,
		selfID:  selfID,
		store:   store,
		bus:     bus,
		peers:   peers,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.DispatchRate), int(cfg.DispatchRate)),
		taskCh:  make(chan dispatchTask, cfg.Workers*4),
	}
}

// Start launches the outbound dispatch loop and its worker pool.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.sub = s.bus.WatchAll()
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(loopCtx)
		}()
	}

	go func() {
		s.dispatchLoop(loopCtx)
		close(s.taskCh)
		wg.Wait()
		close(s.done)
	}()

	return nil
}

// Stop cancels dispatch and waits up to a bounded grace period for
// in-flight deliveries to finish.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	sub := s.sub
	s.running = false
	s.mu.Unlock()

	cancel()
	if sub != nil {
		sub.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stopGrace):
		return nil
	}
}

// dispatchLoop reads every event on the bus and enqueues one dispatch
// task per UP peer for events that originated locally. Events whose
// OriginNodeID is a peer id were merged via ApplyReplicatedEvent and are
// re-published locally but never forwarded (loop suppression).
func (s *Syncer) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.sub.C():
			if !ok {
				return
			}
			if evt.OriginNodeID != s.selfID {
				continue
			}
			for _, peer := range s.peers() {
				if peer.Status != cluster.NodeUp {
					continue
				}
				select {
				case s.taskCh <- dispatchTask{peer: peer, evt: evt}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *Syncer) worker(ctx context.Context) {
	for task := range s.taskCh {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.sendToPeer(ctx, task.peer, task.evt); err != nil {
			s.failed.Add(1)
			s.log.Warn("replication delivery failed", "peer", task.peer.NodeID, "eventId", task.evt.EventID, "error", err)
			continue
		}
		s.sent.Add(1)
	}
}

func (s *Syncer) sendToPeer(ctx context.Context, peer cluster.ClusterNode, evt eventbus.ServiceEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("clustersync: marshal event: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d%s", peer.Host, peer.Port, eventsPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("clustersync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("clustersync: deliver to %s: %w", peer.NodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("clustersync: peer %s rejected event with status %d", peer.NodeID, resp.StatusCode)
	}
	return nil
}

// HandleClusterEvent applies an inbound peer event to the local store and
// re-publishes it on the local bus. If the event arrives with no origin
// id set it is tagged with fallbackOriginNodeID before applying.
func (s *Syncer) HandleClusterEvent(evt eventbus.ServiceEvent, fallbackOriginNodeID string) error {
	if evt.OriginNodeID == "" {
		evt.OriginNodeID = fallbackOriginNodeID
	}
	return s.store.ApplyReplicatedEvent(evt)
}

// Stats reports outbound delivery counters, for the metrics and
// cluster-status surfaces.
type Stats struct {
	Sent   uint64
	Failed uint64
}

// Stats returns a snapshot of outbound delivery counters.
func (s *Syncer) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}
