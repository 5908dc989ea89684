// Package client implements the agentnet validator runner: an off-chain
// daemon that watches request-creation events, gates execution on quorum
// agreement with its subcommittee peers, runs the agent container through
// the local host API, and submits its response on-chain.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/async"
	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
	"github.com/somnia-agents/agentnet/oracle/engine"
)

var log = logrus.WithField("prefix", "validator")

const agentCacheSize = 128

// Config wires a ValidatorService.
type Config struct {
	Self   common.Address
	Chain  Chain
	Host   AgentHost
	Peers  PeerDirectory
	Quoter CostQuoter
}

// ValidatorService runs the main runner routine: heartbeating, event
// subscription, and one task per in-flight request.
type ValidatorService struct {
	ctx    context.Context
	cancel context.CancelFunc

	self   common.Address
	chain  Chain
	host   AgentHost
	peers  PeerDirectory
	quoter CostQuoter

	// inflight gates task concurrency; its depth is the capacity answer
	// for inbound quorum probes.
	inflight    chan struct{}
	inflightNow int64

	// cancels maps in-flight request ids to their cancel funcs, tripped by
	// finalization observations.
	cancelsMu sync.Mutex
	cancels   map[uint64]context.CancelFunc

	// refusals remembers quorum probes this runner answered with false.
	refusals *gocache.Cache

	agentCache *lru.Cache

	wg         sync.WaitGroup
	failStatus error
}

// NewValidatorService creates the runner service.
func NewValidatorService(ctx context.Context, cfg *Config) (*ValidatorService, error) {
	if cfg.Chain == nil || cfg.Host == nil || cfg.Peers == nil {
		return nil, errors.New("validator service requires chain, host, and peer directory")
	}
	ctx, cancel := context.WithCancel(ctx)
	quoter := cfg.Quoter
	if quoter == nil {
		quoter = PassthroughQuoter{}
	}
	cache, err := lru.New(agentCacheSize)
	if err != nil {
		cancel()
		return nil, err
	}
	net := params.AgentNet()
	return &ValidatorService{
		ctx:        ctx,
		cancel:     cancel,
		self:       cfg.Self,
		chain:      cfg.Chain,
		host:       cfg.Host,
		peers:      cfg.Peers,
		quoter:     quoter,
		inflight:   make(chan struct{}, net.MaxInflightRequests),
		cancels:    make(map[uint64]context.CancelFunc),
		refusals:   gocache.New(net.QuorumRefusalTTL, 2*net.QuorumRefusalTTL),
		agentCache: cache,
	}, nil
}

// Start launches the runner goroutines.
func (v *ValidatorService) Start() {
	log.WithField("validator", v.self.Hex()).Info("Starting validator runner")

	// First heartbeat immediately so the runner can be elected, then keep
	// well inside the liveness window.
	v.heartbeat()
	async.RunEvery(v.ctx, params.AgentNet().HeartbeatInterval/2, v.heartbeat)

	v.wg.Add(2)
	go v.subscribeCreated()
	go v.subscribeFinalized()

	if src, ok := v.chain.(EpochSource); ok {
		v.wg.Add(1)
		go v.watchEpochs(src)
	}
}

// watchEpochs tracks committee epoch transitions for visibility. Election
// is seeded per request, so a new roster needs no runner-side action beyond
// reporting.
func (v *ValidatorService) watchEpochs(src EpochSource) {
	defer v.wg.Done()
	ch := make(chan *committee.EpochEvent, 4)
	sub := src.SubscribeNewEpoch(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-sub.Err():
			return
		case ev := <-ch:
			committeeEpoch.Set(float64(ev.Epoch))
			log.WithFields(logrus.Fields{
				"epoch":   ev.Epoch,
				"members": len(ev.Members),
			}).Info("Committee epoch advanced")
		}
	}
}

// Stop terminates the runner, waiting for its loops to exit.
func (v *ValidatorService) Stop() error {
	v.cancel()
	v.wg.Wait()
	log.Info("Stopping validator runner")
	return nil
}

// Status reports subscription health.
func (v *ValidatorService) Status() error {
	return v.failStatus
}

func (v *ValidatorService) heartbeat() {
	if err := v.chain.Heartbeat(v.ctx); err != nil {
		// Transient RPC failures are retried on the next tick; the loop
		// never gives up.
		log.WithError(err).Warn("Heartbeat failed")
		heartbeatFailures.Inc()
		return
	}
	heartbeatsSent.Inc()
}

func (v *ValidatorService) subscribeCreated() {
	defer v.wg.Done()
	ch := make(chan *engine.RequestCreatedEvent, 16)
	sub := v.chain.SubscribeRequestCreated(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case <-v.ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				log.WithError(err).Error("Request subscription failed")
				v.failStatus = err
			}
			return
		case ev := <-ch:
			v.dispatch(ev)
		}
	}
}

func (v *ValidatorService) subscribeFinalized() {
	defer v.wg.Done()
	ch := make(chan *engine.RequestFinalizedEvent, 16)
	sub := v.chain.SubscribeRequestFinalized(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case <-v.ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				log.WithError(err).Error("Finalization subscription failed")
			}
			return
		case ev := <-ch:
			v.cancelsMu.Lock()
			if cancelTask, ok := v.cancels[ev.RequestID]; ok {
				cancelTask()
			}
			v.cancelsMu.Unlock()
		}
	}
}

// dispatch starts a task for a request event if this runner was elected and
// a concurrency slot is free. A saturated runner drops immediately; it will
// also refuse quorum probes, signalling backpressure to peers.
func (v *ValidatorService) dispatch(ev *engine.RequestCreatedEvent) {
	elected := false
	for _, m := range ev.Subcommittee {
		if m == v.self {
			elected = true
			break
		}
	}
	if !elected {
		tasksDropped.WithLabelValues(dropNotMember).Inc()
		return
	}

	select {
	case v.inflight <- struct{}{}:
	default:
		log.WithField("requestId", ev.RequestID).Warn("Runner saturated, dropping request")
		tasksDropped.WithLabelValues(dropSaturated).Inc()
		return
	}
	atomic.AddInt64(&v.inflightNow, 1)

	taskCtx, cancelTask := context.WithCancel(v.ctx)
	v.cancelsMu.Lock()
	v.cancels[ev.RequestID] = cancelTask
	v.cancelsMu.Unlock()

	v.wg.Add(1)
	go func() {
		defer func() {
			v.cancelsMu.Lock()
			delete(v.cancels, ev.RequestID)
			v.cancelsMu.Unlock()
			cancelTask()
			atomic.AddInt64(&v.inflightNow, -1)
			<-v.inflight
			v.wg.Done()
		}()
		v.runTask(taskCtx, ev)
	}()
}

// hasCapacity is the capacity component of a quorum answer.
func (v *ValidatorService) hasCapacity() bool {
	return atomic.LoadInt64(&v.inflightNow) < int64(cap(v.inflight))
}

// agent resolves agent metadata through an LRU cache.
func (v *ValidatorService) agent(ctx context.Context, id common.Hash) (*agents.Agent, error) {
	if cached, ok := v.agentCache.Get(id); ok {
		return cached.(*agents.Agent), nil
	}
	a, err := v.chain.Agent(ctx, id)
	if err != nil {
		return nil, err
	}
	v.agentCache.Add(id, a)
	return a, nil
}
