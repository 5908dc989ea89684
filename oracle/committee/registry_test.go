package committee

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnia-agents/agentnet/config/params"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func useTestParams(t *testing.T) {
	prev := params.AgentNet()
	params.OverrideAgentNetConfig(params.MinimalTestConfig())
	t.Cleanup(func() { params.OverrideAgentNetConfig(prev) })
}

// heartbeatAll heartbeats every validator and forces activation by advancing
// past the upkeep rate limit.
func heartbeatAll(clk *fakeClock, r *Registry, validators ...common.Address) {
	for _, v := range validators {
		r.Heartbeat(v)
	}
	clk.Advance(params.AgentNet().UpkeepInterval)
	r.Upkeep()
}

func TestHeartbeat_ActivatesOnUpkeep(t *testing.T) {
	useTestParams(t)
	clk := newFakeClock()
	r := NewRegistry(clk.Now)

	r.Heartbeat(addr(1))
	// The piggybacked upkeep ran, so the validator is already active and the
	// epoch advanced once.
	require.True(t, r.IsActive(addr(1)))
	require.Equal(t, uint64(1), r.CurrentEpoch())

	// A second heartbeat in the same window is a no-op for the epoch.
	r.Heartbeat(addr(1))
	assert.Equal(t, uint64(1), r.CurrentEpoch())
}

func TestUpkeep_RateLimited(t *testing.T) {
	useTestParams(t)
	clk := newFakeClock()
	r := NewRegistry(clk.Now)
	heartbeatAll(clk, r, addr(1))

	// New validator joins, but upkeep just ran: no epoch change until the
	// interval elapses.
	r.Heartbeat(addr(2))
	epoch := r.CurrentEpoch()
	r.Upkeep()
	assert.Equal(t, epoch, r.CurrentEpoch())
	assert.False(t, r.IsActive(addr(2)))

	clk.Advance(params.AgentNet().UpkeepInterval)
	r.Upkeep()
	assert.Equal(t, epoch+1, r.CurrentEpoch())
	assert.True(t, r.IsActive(addr(2)))
}

func TestUpkeep_PurgesStaleValidators(t *testing.T) {
	useTestParams(t)
	clk := newFakeClock()
	r := NewRegistry(clk.Now)
	heartbeatAll(clk, r, addr(1), addr(2))
	require.Len(t, r.ActiveMembers(), 2)
	epoch := r.CurrentEpoch()

	// addr(2) keeps heartbeating, addr(1) goes silent.
	clk.Advance(params.AgentNet().HeartbeatInterval / 2)
	r.Heartbeat(addr(2))
	clk.Advance(params.AgentNet().HeartbeatInterval)
	r.Upkeep()

	members := r.ActiveMembers()
	require.Len(t, members, 1)
	assert.Equal(t, addr(2), members[0])
	assert.False(t, r.IsActive(addr(1)))
	assert.Equal(t, epoch+1, r.CurrentEpoch())

	// A purged validator can rejoin with a fresh heartbeat.
	r.Heartbeat(addr(1))
	clk.Advance(params.AgentNet().UpkeepInterval)
	r.Upkeep()
	assert.True(t, r.IsActive(addr(1)))
}

func TestUpkeep_EpochMonotoneAndQuiescent(t *testing.T) {
	useTestParams(t)
	clk := newFakeClock()
	r := NewRegistry(clk.Now)
	heartbeatAll(clk, r, addr(1), addr(2), addr(3))
	epoch := r.CurrentEpoch()

	// Quiescent upkeeps: membership unchanged, epoch frozen.
	for i := 0; i < 3; i++ {
		clk.Advance(params.AgentNet().UpkeepInterval)
		r.Heartbeat(addr(1))
		r.Heartbeat(addr(2))
		r.Heartbeat(addr(3))
		r.Upkeep()
		assert.Equal(t, epoch, r.CurrentEpoch())
	}
}

func TestSubscribeNewEpoch(t *testing.T) {
	useTestParams(t)
	clk := newFakeClock()
	r := NewRegistry(clk.Now)

	ch := make(chan *EpochEvent, 4)
	sub := r.SubscribeNewEpoch(ch)
	defer sub.Unsubscribe()

	// addr(1)'s heartbeat activates it immediately (epoch 1); addr(2) is
	// activated by the forced upkeep (epoch 2).
	heartbeatAll(clk, r, addr(1), addr(2))

	var last *EpochEvent
	for i := 0; i < 2; i++ {
		select {
		case last = <-ch:
		case <-time.After(time.Second):
			t.Fatal("missing epoch event")
		}
	}
	assert.Equal(t, uint64(2), last.Epoch)
	assert.Len(t, last.Members, 2)
}
