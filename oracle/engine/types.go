package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a request.
type Status uint8

// Request lifecycle states. A request finalizes exactly once, into one of
// the three terminal states.
const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Finalized reports whether s is a terminal state.
func (s Status) Finalized() bool {
	return s != StatusPending
}

// ConsensusType selects how successful responses are judged.
type ConsensusType uint8

const (
	// Majority requires threshold-many byte-identical successful results.
	Majority ConsensusType = iota
	// Threshold requires threshold-many successful responses regardless of
	// their values; aggregation is left to the caller.
	Threshold
)

func (c ConsensusType) String() string {
	if c == Threshold {
		return "threshold"
	}
	return "majority"
}

// Response is one validator's answer for a request. Responses are append
// only and die with their parent slot.
type Response struct {
	Validator common.Address
	Result    []byte
	Success   bool
	Receipt   common.Hash
	Cost      *uint256.Int
	Timestamp time.Time
}

// Request is one slot of the ledger ring. The slot carries its own ID so
// lookups can detect and reject references to overwritten occupants.
type Request struct {
	ID               uint64
	Requester        common.Address
	CallbackAddress  common.Address
	CallbackSelector [4]byte
	AgentCreator     common.Address
	Subcommittee     []common.Address
	Responses        []Response
	FailureCount     uint64
	Threshold        uint64
	Consensus        ConsensusType
	CreatedAt        time.Time
	Status           Status
	MaxCost          *uint256.Int
	FinalCost        *uint256.Int
}

// ResponseCount returns the number of recorded responses.
func (r *Request) ResponseCount() uint64 {
	return uint64(len(r.Responses))
}

// SuccessCount returns the number of successful responses.
func (r *Request) SuccessCount() uint64 {
	return r.ResponseCount() - r.FailureCount
}

func (r *Request) hasResponded(v common.Address) bool {
	for i := range r.Responses {
		if r.Responses[i].Validator == v {
			return true
		}
	}
	return false
}

func (r *Request) isMember(v common.Address) bool {
	for _, m := range r.Subcommittee {
		if m == v {
			return true
		}
	}
	return false
}

// snapshot returns a deep copy safe to hand out of the engine lock.
func (r *Request) snapshot() *Request {
	cp := *r
	cp.Subcommittee = append([]common.Address(nil), r.Subcommittee...)
	cp.Responses = make([]Response, len(r.Responses))
	for i, resp := range r.Responses {
		cp.Responses[i] = resp
		cp.Responses[i].Result = append([]byte(nil), resp.Result...)
		if resp.Cost != nil {
			cp.Responses[i].Cost = new(uint256.Int).Set(resp.Cost)
		}
	}
	if r.MaxCost != nil {
		cp.MaxCost = new(uint256.Int).Set(r.MaxCost)
	}
	if r.FinalCost != nil {
		cp.FinalCost = new(uint256.Int).Set(r.FinalCost)
	}
	return &cp
}

// RequestCreatedEvent is emitted when a request slot is allocated. The
// payload travels only in the event, never in the slot.
type RequestCreatedEvent struct {
	RequestID       uint64
	AgentID         common.Hash
	MaxCostPerAgent *uint256.Int
	Payload         []byte
	Subcommittee    []common.Address
}

// RequestFinalizedEvent is emitted exactly once per request.
type RequestFinalizedEvent struct {
	RequestID uint64
	Status    Status
}
