package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/crypto/hash"
)

// CreateRequest allocates a request with the engine's default subcommittee
// size, threshold, and Majority consensus. The attached value must equal
// RequestDeposit exactly; the deposit is a ceiling, not a quote.
func (e *Engine) CreateRequest(
	caller common.Address,
	value *uint256.Int,
	agentID common.Hash,
	callbackAddr common.Address,
	callbackSelector [4]byte,
	payload []byte,
) (uint64, error) {
	e.mu.Lock()
	size, threshold := e.subcommitteeSize, e.threshold
	e.mu.Unlock()
	return e.CreateAdvancedRequest(caller, value, agentID, callbackAddr, callbackSelector, payload, size, threshold, Majority)
}

// CreateAdvancedRequest allocates a request with explicit parameters. The
// returned id is monotone; the slot it lands in is id mod capacity, and any
// prior occupant of that slot is forgotten.
func (e *Engine) CreateAdvancedRequest(
	caller common.Address,
	value *uint256.Int,
	agentID common.Hash,
	callbackAddr common.Address,
	callbackSelector [4]byte,
	payload []byte,
	subcommitteeSize uint64,
	threshold uint64,
	consensus ConsensusType,
) (uint64, error) {
	if threshold == 0 || threshold > subcommitteeSize {
		return 0, errors.Wrapf(ErrInvalidThreshold, "threshold %d, subcommittee %d", threshold, subcommitteeSize)
	}
	if max := params.AgentNet().MaxPayloadBytes; max > 0 && len(payload) > max {
		return 0, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}
	if value == nil {
		value = new(uint256.Int)
	}

	e.mu.Lock()

	deposit := new(uint256.Int).Mul(e.maxPerAgentFee, uint256.NewInt(subcommitteeSize))
	if !value.Eq(deposit) {
		e.mu.Unlock()
		return 0, errors.Wrapf(ErrIncorrectDeposit, "want %s, got %s", deposit, value)
	}

	agent, err := e.agents.Agent(agentID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	id := e.store.NextID()
	subcommittee, err := e.committee.ElectSubcommittee(subcommitteeSize, hash.Uint64(id))
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.store.SetNextID(id + 1)

	slot := e.store.Allocate(id % e.store.Capacity())
	slot.ID = id
	slot.Requester = caller
	slot.CallbackAddress = callbackAddr
	slot.CallbackSelector = callbackSelector
	slot.AgentCreator = agent.Owner
	slot.Subcommittee = subcommittee
	slot.Threshold = threshold
	slot.Consensus = consensus
	slot.CreatedAt = e.now()
	slot.Status = StatusPending
	slot.MaxCost = new(uint256.Int).Set(value)

	ev := &RequestCreatedEvent{
		RequestID:       id,
		AgentID:         agentID,
		MaxCostPerAgent: new(uint256.Int).Set(e.maxPerAgentFee),
		Payload:         append([]byte(nil), payload...),
		Subcommittee:    append([]common.Address(nil), subcommittee...),
	}
	e.mu.Unlock()

	requestsCreated.Inc()
	log.WithFields(logrus.Fields{
		"requestId":    id,
		"agentId":      agentID.Hex(),
		"subcommittee": len(subcommittee),
		"threshold":    threshold,
		"consensus":    consensus.String(),
	}).Debug("Request created")

	e.createdFeed.Send(ev)
	return id, nil
}
