package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
	"github.com/somnia-agents/agentnet/oracle/engine"
	"github.com/somnia-agents/agentnet/validator/hostapi"
)

// Chain is the runner's narrow view of the on-chain oracle: event
// subscriptions, slot reads, response submission, and liveness. Bindings
// decide the transport; the in-process binding lives in client/local.
type Chain interface {
	SubscribeRequestCreated(ch chan<- *engine.RequestCreatedEvent) event.Subscription
	SubscribeRequestFinalized(ch chan<- *engine.RequestFinalizedEvent) event.Subscription
	GetRequest(ctx context.Context, id uint64) (*engine.Request, error)
	SubmitResponse(ctx context.Context, id uint64, result []byte, receipt common.Hash, cost *uint256.Int, success bool) error
	Heartbeat(ctx context.Context) error
	Agent(ctx context.Context, id common.Hash) (*agents.Agent, error)
}

// EpochSource is an optional Chain capability: committee epoch
// notifications. Runners use it to observe roster churn.
type EpochSource interface {
	SubscribeNewEpoch(ch chan<- *committee.EpochEvent) event.Subscription
}

// AgentHost is the subset of the host API the task machine drives.
// *hostapi.Client satisfies it.
type AgentHost interface {
	LoadContainer(ctx context.Context, agentID common.Hash, imageURI string) (string, error)
	Invoke(ctx context.Context, handle string, payload []byte) (*hostapi.InvokeResult, error)
	Remove(ctx context.Context, handle string) error
}

// PeerDirectory resolves a subcommittee peer to its quorum endpoint.
type PeerDirectory interface {
	Endpoint(v common.Address) (string, bool)
}

// StaticDirectory is a PeerDirectory backed by a fixed map, populated from
// CLI flags or test wiring.
type StaticDirectory struct {
	mu    sync.RWMutex
	peers map[common.Address]string
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{peers: make(map[common.Address]string)}
}

// Set maps a validator to its quorum endpoint.
func (d *StaticDirectory) Set(v common.Address, endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[v] = endpoint
}

// Endpoint implements PeerDirectory.
func (d *StaticDirectory) Endpoint(v common.Address) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.peers[v]
	return ep, ok
}

// ParsePeerEntry parses a "0xaddress=http://host:port" flag entry.
func ParsePeerEntry(entry string) (common.Address, string, error) {
	parts := strings.SplitN(entry, "=", 2)
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || parts[1] == "" {
		return common.Address{}, "", errors.Errorf("malformed peer entry %q, want 0xaddress=endpoint", entry)
	}
	return common.HexToAddress(parts[0]), parts[1], nil
}

// CostQuoter derives the cost a runner quotes with its response. How a
// runner prices execution is deliberately pluggable; the ledger's median
// dampens outliers.
type CostQuoter interface {
	Quote(hostCost uint64, elapsed time.Duration) *uint256.Int
}

// PassthroughQuoter quotes exactly what the host reported.
type PassthroughQuoter struct{}

// Quote implements CostQuoter.
func (PassthroughQuoter) Quote(hostCost uint64, _ time.Duration) *uint256.Int {
	return uint256.NewInt(hostCost)
}
