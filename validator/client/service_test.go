package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/engine"
	"github.com/somnia-agents/agentnet/validator/hostapi"
)

func useTestParams(t *testing.T) {
	t.Helper()
	prev := params.AgentNet()
	params.OverrideAgentNetConfig(params.MinimalTestConfig())
	t.Cleanup(func() { params.OverrideAgentNetConfig(prev) })
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

type submission struct {
	requestID uint64
	result    []byte
	cost      *uint256.Int
	success   bool
}

// fakeChain is an in-memory Chain with scriptable request state.
type fakeChain struct {
	mu          sync.Mutex
	requests    map[uint64]*engine.Request
	submissions []submission
	submitErr   error
	heartbeats  int32

	createdFeed   event.Feed
	finalizedFeed event.Feed
}

func newFakeChain() *fakeChain {
	return &fakeChain{requests: make(map[uint64]*engine.Request)}
}

func (c *fakeChain) SubscribeRequestCreated(ch chan<- *engine.RequestCreatedEvent) event.Subscription {
	return c.createdFeed.Subscribe(ch)
}

func (c *fakeChain) SubscribeRequestFinalized(ch chan<- *engine.RequestFinalizedEvent) event.Subscription {
	return c.finalizedFeed.Subscribe(ch)
}

func (c *fakeChain) GetRequest(_ context.Context, id uint64) (*engine.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.requests[id]
	if !ok {
		return nil, engine.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *fakeChain) SubmitResponse(_ context.Context, id uint64, result []byte, _ common.Hash, cost *uint256.Int, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return c.submitErr
	}
	c.submissions = append(c.submissions, submission{requestID: id, result: result, cost: cost, success: success})
	return nil
}

func (c *fakeChain) Heartbeat(_ context.Context) error {
	atomic.AddInt32(&c.heartbeats, 1)
	return nil
}

func (c *fakeChain) Agent(_ context.Context, id common.Hash) (*agents.Agent, error) {
	return &agents.Agent{ContainerImageURI: "oci://agent", Owner: addr(0xAA)}, nil
}

func (c *fakeChain) setRequest(r *engine.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[r.ID] = r
}

func (c *fakeChain) submissionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submissions)
}

func (c *fakeChain) lastSubmission(t *testing.T) submission {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.submissions)
	return c.submissions[len(c.submissions)-1]
}

// fakeHost is an in-process AgentHost.
type fakeHost struct {
	invokeErr error
	result    *hostapi.InvokeResult
	// blockUntilCancel makes Invoke hang until its context is cancelled.
	blockUntilCancel bool
	invoked          chan struct{}
}

func (h *fakeHost) LoadContainer(_ context.Context, _ common.Hash, _ string) (string, error) {
	return "h-1", nil
}

func (h *fakeHost) Remove(_ context.Context, _ string) error {
	return nil
}

func (h *fakeHost) Invoke(ctx context.Context, _ string, _ []byte) (*hostapi.InvokeResult, error) {
	if h.invoked != nil {
		select {
		case h.invoked <- struct{}{}:
		default:
		}
	}
	if h.blockUntilCancel {
		<-ctx.Done()
		return nil, errors.Wrap(hostapi.ErrInvokeTimeout, ctx.Err().Error())
	}
	if h.invokeErr != nil {
		return nil, h.invokeErr
	}
	return h.result, nil
}

func newTestService(t *testing.T, chain Chain, host AgentHost, self common.Address) *ValidatorService {
	t.Helper()
	v, err := NewValidatorService(context.Background(), &Config{
		Self:  self,
		Chain: chain,
		Host:  host,
		Peers: NewStaticDirectory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { v.cancel() })
	return v
}

func pendingRequest(id uint64, threshold uint64, members ...common.Address) *engine.Request {
	return &engine.Request{
		ID:           id,
		Subcommittee: members,
		Threshold:    threshold,
		Status:       engine.StatusPending,
	}
}

func createdEvent(id uint64, members ...common.Address) *engine.RequestCreatedEvent {
	return &engine.RequestCreatedEvent{
		RequestID:       id,
		AgentID:         common.HexToHash("0x01"),
		MaxCostPerAgent: uint256.NewInt(1000),
		Payload:         []byte("payload"),
		Subcommittee:    members,
	}
}

func TestNewValidatorService_RequiresCollaborators(t *testing.T) {
	_, err := NewValidatorService(context.Background(), &Config{Self: addr(1)})
	require.Error(t, err)
}

func TestRunTask_SubmitsResponse(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(7, 1, self))
	host := &fakeHost{result: &hostapi.InvokeResult{Result: []byte("OK"), Cost: 150, Success: true}}
	v := newTestService(t, chain, host, self)

	v.runTask(context.Background(), createdEvent(7, self))

	require.Equal(t, 1, chain.submissionCount())
	sub := chain.lastSubmission(t)
	assert.Equal(t, uint64(7), sub.requestID)
	assert.Equal(t, []byte("OK"), sub.result)
	assert.Equal(t, uint256.NewInt(150), sub.cost)
	assert.True(t, sub.success)
}

func TestRunTask_HostFailureSubmitsUnsuccessful(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(3, 1, self))
	host := &fakeHost{invokeErr: hostapi.ErrContainerError}
	v := newTestService(t, chain, host, self)

	v.runTask(context.Background(), createdEvent(3, self))

	require.Equal(t, 1, chain.submissionCount())
	sub := chain.lastSubmission(t)
	assert.Empty(t, sub.result)
	assert.True(t, sub.cost.IsZero())
	assert.False(t, sub.success)
}

func TestRunTask_AlreadyFinalized(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	r := pendingRequest(9, 1, self)
	r.Status = engine.StatusSuccess
	chain.setRequest(r)
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, self)

	v.runTask(context.Background(), createdEvent(9, self))

	assert.Zero(t, chain.submissionCount())
}

func TestRunTask_UnknownRequest(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, self)

	v.runTask(context.Background(), createdEvent(404, self))

	assert.Zero(t, chain.submissionCount())
}

func TestRunTask_SubmissionRaceIsBenign(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(5, 1, self))
	chain.submitErr = engine.ErrAlreadyResponded
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Result: []byte("x"), Success: true}}, self)

	// Must not panic or retry forever.
	v.runTask(context.Background(), createdEvent(5, self))
	assert.Zero(t, chain.submissionCount())
}

func TestDispatch_IgnoresForeignSubcommittee(t *testing.T) {
	useTestParams(t)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(1, 1, addr(2), addr(3)))
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, addr(1))

	v.dispatch(createdEvent(1, addr(2), addr(3)))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, chain.submissionCount())
	assert.Zero(t, atomic.LoadInt64(&v.inflightNow))
}

func TestDispatch_DropsWhenSaturated(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(1, 1, self))
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, self)

	for i := 0; i < cap(v.inflight); i++ {
		v.inflight <- struct{}{}
	}
	v.dispatch(createdEvent(1, self))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, chain.submissionCount())
}

func TestFinalizationCancelsTask(t *testing.T) {
	useTestParams(t)
	self := addr(1)
	chain := newFakeChain()
	chain.setRequest(pendingRequest(2, 1, self))
	host := &fakeHost{blockUntilCancel: true, invoked: make(chan struct{}, 1)}
	v := newTestService(t, chain, host, self)

	v.Start()
	defer func() { require.NoError(t, v.Stop()) }()

	chain.createdFeed.Send(createdEvent(2, self))

	select {
	case <-host.invoked:
	case <-time.After(time.Second):
		t.Fatal("task never reached the host")
	}

	chain.finalizedFeed.Send(&engine.RequestFinalizedEvent{RequestID: 2, Status: engine.StatusSuccess})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&v.inflightNow) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, chain.submissionCount())
}

func TestHeartbeatLoop(t *testing.T) {
	useTestParams(t)
	chain := newFakeChain()
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, addr(1))

	v.Start()
	defer func() { require.NoError(t, v.Stop()) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&chain.heartbeats) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestAgentMetadataCached(t *testing.T) {
	useTestParams(t)
	chain := newFakeChain()
	v := newTestService(t, chain, &fakeHost{result: &hostapi.InvokeResult{Success: true}}, addr(1))

	id := common.HexToHash("0x02")
	a1, err := v.agent(context.Background(), id)
	require.NoError(t, err)
	a2, err := v.agent(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, a1, a2)
}

func TestParsePeerEntry(t *testing.T) {
	a, ep, err := ParsePeerEntry("0x0000000000000000000000000000000000000001=http://10.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, addr(1), a)
	assert.Equal(t, "http://10.0.0.1:9000", ep)

	_, _, err = ParsePeerEntry("no-equals-sign")
	require.Error(t, err)
	_, _, err = ParsePeerEntry("nothex=http://10.0.0.1:9000")
	require.Error(t, err)
	_, _, err = ParsePeerEntry("0x0000000000000000000000000000000000000001=")
	require.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory()
	_, ok := d.Endpoint(addr(1))
	assert.False(t, ok)

	d.Set(addr(1), "http://127.0.0.1:9000")
	ep, ok := d.Endpoint(addr(1))
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9000", ep)
}

func TestPassthroughQuoter(t *testing.T) {
	q := PassthroughQuoter{}
	assert.Equal(t, uint256.NewInt(42), q.Quote(42, time.Second))
}
