// Package local binds a validator runner directly to an in-process oracle
// engine and committee registry. It is the dev-mode transport: a single
// process hosts the chain-side state machine and one or more runners, with
// no RPC in between.
package local

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"

	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
	"github.com/somnia-agents/agentnet/oracle/engine"
)

// Chain is an in-process client.Chain implementation for one validator
// identity.
type Chain struct {
	self      common.Address
	engine    *engine.Engine
	committee *committee.Registry
	agents    agents.Registry
}

// NewChain binds a validator identity to an in-process engine.
func NewChain(self common.Address, e *engine.Engine, c *committee.Registry, reg agents.Registry) *Chain {
	return &Chain{self: self, engine: e, committee: c, agents: reg}
}

// SubscribeRequestCreated forwards the engine's creation feed.
func (c *Chain) SubscribeRequestCreated(ch chan<- *engine.RequestCreatedEvent) event.Subscription {
	return c.engine.SubscribeRequestCreated(ch)
}

// SubscribeRequestFinalized forwards the engine's finalization feed.
func (c *Chain) SubscribeRequestFinalized(ch chan<- *engine.RequestFinalizedEvent) event.Subscription {
	return c.engine.SubscribeRequestFinalized(ch)
}

// GetRequest reads a request snapshot.
func (c *Chain) GetRequest(_ context.Context, id uint64) (*engine.Request, error) {
	return c.engine.GetRequest(id)
}

// SubmitResponse submits this validator's response.
func (c *Chain) SubmitResponse(_ context.Context, id uint64, result []byte, receipt common.Hash, cost *uint256.Int, success bool) error {
	return c.engine.SubmitResponse(c.self, id, result, receipt, cost, success)
}

// Heartbeat registers liveness for this validator.
func (c *Chain) Heartbeat(_ context.Context) error {
	c.committee.Heartbeat(c.self)
	return nil
}

// SubscribeNewEpoch forwards the committee registry's epoch feed.
func (c *Chain) SubscribeNewEpoch(ch chan<- *committee.EpochEvent) event.Subscription {
	return c.committee.SubscribeNewEpoch(ch)
}

// Agent resolves agent metadata from the registry.
func (c *Chain) Agent(_ context.Context, id common.Hash) (*agents.Agent, error) {
	return c.agents.Agent(id)
}
