// Package committee maintains the set of live validators, performs
// deterministic subcommittee sampling, and escrows payouts until validators
// claim them.
//
// Liveness is heartbeat based: a validator is active while its last
// heartbeat is within HeartbeatInterval. Upkeep walks the known set, purges
// validators that went stale, activates validators that heartbeated since
// the last run, and bumps the epoch counter whenever membership changed.
package committee

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/config/params"
)

var log = logrus.WithField("prefix", "committee")

// Validator is one known committee member.
type Validator struct {
	Address       common.Address
	LastHeartbeat time.Time
	Active        bool
}

// EpochEvent is sent on the NewEpoch feed whenever an upkeep changed the
// active set.
type EpochEvent struct {
	Epoch   uint64
	Members []common.Address
}

// Registry tracks validator liveness and owns the pending payout balances.
// All methods are safe for concurrent use; state transitions are serialized
// under one lock, matching the transaction model of the hosting ledger.
type Registry struct {
	mu         sync.RWMutex
	now        func() time.Time
	validators map[common.Address]*Validator
	roster     []common.Address // insertion order, gives elections a reproducible base order
	epoch      uint64
	lastUpkeep time.Time

	balances map[common.Address]*uint256.Int

	epochFeed event.Feed
}

// NewRegistry creates an empty registry. A nil clock defaults to time.Now.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		now:        clock,
		validators: make(map[common.Address]*Validator),
		balances:   make(map[common.Address]*uint256.Int),
	}
}

// Heartbeat declares the caller live. Unknown callers are added to the known
// set (inactive until the next upkeep run flips them). An upkeep attempt is
// piggybacked on every heartbeat; the upkeep rate limit keeps that cheap.
func (r *Registry) Heartbeat(caller common.Address) {
	r.mu.Lock()
	v, ok := r.validators[caller]
	if !ok {
		v = &Validator{Address: caller}
		r.validators[caller] = v
		r.roster = append(r.roster, caller)
		log.WithField("validator", caller.Hex()).Debug("New validator heartbeat")
	}
	v.LastHeartbeat = r.now()
	r.mu.Unlock()

	r.Upkeep()
}

// Upkeep performs liveness maintenance. It is idempotent and rate-limited:
// calls within UpkeepInterval of the previous run are ignored. When any
// validator's active state changes the epoch is bumped and an EpochEvent is
// emitted.
func (r *Registry) Upkeep() {
	r.mu.Lock()

	now := r.now()
	if !r.lastUpkeep.IsZero() && now.Sub(r.lastUpkeep) < params.AgentNet().UpkeepInterval {
		r.mu.Unlock()
		return
	}
	r.lastUpkeep = now

	changed := false
	kept := r.roster[:0]
	for _, addr := range r.roster {
		v := r.validators[addr]
		if now.After(v.LastHeartbeat.Add(params.AgentNet().HeartbeatInterval)) {
			// Stale: purge from the known set entirely. A later heartbeat
			// rejoins from scratch.
			delete(r.validators, addr)
			if v.Active {
				changed = true
			}
			log.WithField("validator", addr.Hex()).Debug("Purged stale validator")
			continue
		}
		if !v.Active {
			v.Active = true
			changed = true
		}
		kept = append(kept, addr)
	}
	r.roster = kept

	var ev *EpochEvent
	if changed {
		r.epoch++
		ev = &EpochEvent{Epoch: r.epoch, Members: r.activeLocked()}
		log.WithFields(logrus.Fields{
			"epoch":   r.epoch,
			"members": len(ev.Members),
		}).Info("Committee epoch advanced")
	}
	r.mu.Unlock()

	if ev != nil {
		r.epochFeed.Send(ev)
	}
}

// IsActive reports whether v is currently an active committee member.
func (r *Registry) IsActive(v common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.validators[v]
	return ok && val.Active
}

// CurrentEpoch returns the monotone epoch counter.
func (r *Registry) CurrentEpoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// ActiveMembers returns a snapshot of the active validator set in roster
// order.
func (r *Registry) ActiveMembers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() []common.Address {
	members := make([]common.Address, 0, len(r.roster))
	for _, addr := range r.roster {
		if v := r.validators[addr]; v != nil && v.Active {
			members = append(members, addr)
		}
	}
	return members
}

// SubscribeNewEpoch delivers an EpochEvent for every epoch change.
func (r *Registry) SubscribeNewEpoch(ch chan<- *EpochEvent) event.Subscription {
	return r.epochFeed.Subscribe(ch)
}
