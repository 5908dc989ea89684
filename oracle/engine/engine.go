// Package engine implements the agentnet request ledger and consensus
// engine: a fixed-capacity ring of request slots fed by elected
// subcommittees, finalized under Majority or Threshold consensus, and
// settled with a median-cost payout split and a deposit rebate.
//
// The engine mirrors the serialized transaction model of its source
// environment: every externally visible operation is atomic under one
// mutex. Collaborators (committee registry, agent registry, callback
// dispatcher, value transfer) are injected and must never call back into
// the engine.
package engine

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
)

var log = logrus.WithField("prefix", "engine")

// CallbackDispatcher delivers finalization callbacks to consumers. Revert
// and panic in the callee are absorbed; implementations are expected to cap
// execution at the engine's callback gas limit. Dispatchers must not call
// back into the engine.
type CallbackDispatcher interface {
	HandleResponse(
		addr common.Address,
		selector [4]byte,
		requestID uint64,
		results [][]byte,
		status Status,
		finalCost *uint256.Int,
	) error
}

// Config wires an Engine. Zero fields fall back to the network defaults in
// config/params.
type Config struct {
	Owner    common.Address
	Treasury common.Address

	SubcommitteeSize uint64
	Threshold        uint64
	RequestTimeout   time.Duration
	CallbackGasLimit uint64
	MaxPerAgentFee   *uint256.Int

	RunnerBps   uint64
	CreatorBps  uint64
	ProtocolBps uint64

	BufferSize uint64
	StartID    uint64

	// Clock defaults to time.Now.
	Clock func() time.Time
	// GasPrice quotes the current gas price for callback accounting. A nil
	// source charges zero.
	GasPrice func() *uint256.Int
	// SendValue performs a best-effort native transfer (rebates). Failures
	// are logged and swallowed; settlement never depends on the recipient.
	SendValue func(to common.Address, amount *uint256.Int) error
	// Callback delivers consumer callbacks. Nil means callbacks are skipped
	// and no gas cost is charged.
	Callback CallbackDispatcher
}

// Engine owns the request ring and drives the full request lifecycle.
type Engine struct {
	mu sync.Mutex

	owner            common.Address
	treasury         common.Address
	subcommitteeSize uint64
	threshold        uint64
	requestTimeout   time.Duration
	callbackGasLimit uint64
	maxPerAgentFee   *uint256.Int
	runnerBps        uint64
	creatorBps       uint64
	protocolBps      uint64

	now       func() time.Time
	gasPrice  func() *uint256.Int
	sendValue func(common.Address, *uint256.Int) error
	callback  CallbackDispatcher

	store     Store
	committee *committee.Registry
	agents    agents.Registry

	// retained accumulates protocol shares when no treasury is configured;
	// a conscious dust sink.
	retained *uint256.Int

	createdFeed   event.Feed
	finalizedFeed event.Feed
}

// New constructs an Engine over the given collaborators. A nil store gets a
// fresh MemoryStore sized from the config.
func New(cfg *Config, store Store, com *committee.Registry, reg agents.Registry) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	net := params.AgentNet()

	e := &Engine{
		owner:            cfg.Owner,
		treasury:         cfg.Treasury,
		subcommitteeSize: cfg.SubcommitteeSize,
		threshold:        cfg.Threshold,
		requestTimeout:   cfg.RequestTimeout,
		callbackGasLimit: cfg.CallbackGasLimit,
		maxPerAgentFee:   cfg.MaxPerAgentFee,
		runnerBps:        cfg.RunnerBps,
		creatorBps:       cfg.CreatorBps,
		protocolBps:      cfg.ProtocolBps,
		now:              cfg.Clock,
		gasPrice:         cfg.GasPrice,
		sendValue:        cfg.SendValue,
		callback:         cfg.Callback,
		store:            store,
		committee:        com,
		agents:           reg,
		retained:         new(uint256.Int),
	}
	if e.subcommitteeSize == 0 {
		e.subcommitteeSize = net.DefaultSubcommitteeSize
	}
	if e.threshold == 0 {
		e.threshold = net.DefaultThreshold
	}
	if e.requestTimeout == 0 {
		e.requestTimeout = net.RequestTimeout
	}
	if e.callbackGasLimit == 0 {
		e.callbackGasLimit = net.CallbackGasLimit
	}
	if e.maxPerAgentFee == nil {
		e.maxPerAgentFee = uint256.NewInt(net.MaxPerAgentFee)
	}
	if e.runnerBps == 0 && e.creatorBps == 0 && e.protocolBps == 0 {
		e.runnerBps, e.creatorBps, e.protocolBps = net.RunnerBps, net.CreatorBps, net.ProtocolBps
	}
	if e.runnerBps+e.creatorBps+e.protocolBps != 10_000 {
		return nil, ErrInvalidShares
	}
	if e.threshold > e.subcommitteeSize {
		return nil, ErrInvalidThreshold
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.store == nil {
		size := cfg.BufferSize
		if size == 0 {
			size = net.RequestBufferSize
		}
		e.store = NewMemoryStore(size, cfg.StartID)
	}
	return e, nil
}

// RequestDeposit returns the exact deposit CreateRequest requires:
// maxPerAgentFee times the default subcommittee size.
func (e *Engine) RequestDeposit() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Mul(e.maxPerAgentFee, uint256.NewInt(e.subcommitteeSize))
}

// GetRequest returns a snapshot of the live slot holding id.
func (e *Engine) GetRequest(id uint64) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// GetResponses returns the ordered response list of the live slot holding id.
func (e *Engine) GetResponses(id uint64) ([]Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return r.snapshot().Responses, nil
}

// RetainedProtocolFunds reports the dust accumulated while no treasury was
// configured.
func (e *Engine) RetainedProtocolFunds() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.retained)
}

// lookupLocked enforces the ring invariant: an id resolves only while its
// slot still carries it.
func (e *Engine) lookupLocked(id uint64) (*Request, error) {
	r := e.store.Slot(id % e.store.Capacity())
	if r == nil || r.ID != id {
		return nil, ErrRequestNotFound
	}
	return r, nil
}

// SubscribeRequestCreated delivers an event per allocated request.
func (e *Engine) SubscribeRequestCreated(ch chan<- *RequestCreatedEvent) event.Subscription {
	return e.createdFeed.Subscribe(ch)
}

// SubscribeRequestFinalized delivers an event per finalization.
func (e *Engine) SubscribeRequestFinalized(ch chan<- *RequestFinalizedEvent) event.Subscription {
	return e.finalizedFeed.Subscribe(ch)
}

// SetTreasury updates the protocol treasury. Owner only.
func (e *Engine) SetTreasury(caller, treasury common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.treasury = treasury
	return nil
}

// SetShares updates the payout split. The three shares must sum to 10_000
// basis points. Owner only.
func (e *Engine) SetShares(caller common.Address, runnerBps, creatorBps, protocolBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	if runnerBps+creatorBps+protocolBps != 10_000 {
		return ErrInvalidShares
	}
	e.runnerBps, e.creatorBps, e.protocolBps = runnerBps, creatorBps, protocolBps
	return nil
}

// SetDefaults updates the default subcommittee size and threshold used by
// CreateRequest. Owner only.
func (e *Engine) SetDefaults(caller common.Address, subcommitteeSize, threshold uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	if threshold == 0 || threshold > subcommitteeSize {
		return ErrInvalidThreshold
	}
	e.subcommitteeSize, e.threshold = subcommitteeSize, threshold
	return nil
}

// SetRequestTimeout updates the response deadline. Owner only.
func (e *Engine) SetRequestTimeout(caller common.Address, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.requestTimeout = d
	return nil
}

// SetCallbackGasLimit updates the callback gas cap. Owner only.
func (e *Engine) SetCallbackGasLimit(caller common.Address, limit uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.callbackGasLimit = limit
	return nil
}

// SetMaxPerAgentFee updates the per-agent deposit ceiling. Owner only.
func (e *Engine) SetMaxPerAgentFee(caller common.Address, fee *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.maxPerAgentFee = new(uint256.Int).Set(fee)
	return nil
}
