package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
	"github.com/somnia-agents/agentnet/oracle/engine"
	"github.com/somnia-agents/agentnet/validator/client/local"
	"github.com/somnia-agents/agentnet/validator/hostapi"
)

// agentHostServer fakes the container host over HTTP so the real hostapi
// client is exercised end to end.
func agentHostServer(t *testing.T, result []byte, cost uint64) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/containers", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"handle": "h-1"})
	}).Methods(http.MethodPost)
	router.HandleFunc("/containers/{handle}/invoke", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result":  result,
			"receipt": common.HexToHash("0xbeef"),
			"cost":    cost,
			"success": true,
		})
	}).Methods(http.MethodPost)
	router.HandleFunc("/containers/{handle}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// rebateRecorder captures native transfers out of the engine.
type rebateRecorder struct {
	mu    sync.Mutex
	sends map[common.Address]*uint256.Int
}

func newRebateRecorder() *rebateRecorder {
	return &rebateRecorder{sends: make(map[common.Address]*uint256.Int)}
}

func (r *rebateRecorder) send(to common.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.sends[to]
	if !ok {
		prev = new(uint256.Int)
	}
	r.sends[to] = new(uint256.Int).Add(prev, amount)
	return nil
}

func (r *rebateRecorder) total(to common.Address) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.sends[to]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

func TestEndToEnd_ThreeRunnersReachConsensus(t *testing.T) {
	prev := params.AgentNet()
	cfg := params.MinimalTestConfig()
	cfg.UpkeepInterval = 0 // every heartbeat runs upkeep, so activation is immediate
	cfg.RequestTimeout = 5 * time.Second
	cfg.SubmissionBudget = 500 * time.Millisecond
	params.OverrideAgentNetConfig(cfg)
	t.Cleanup(func() { params.OverrideAgentNetConfig(prev) })

	var (
		requester = addr(0x10)
		creator   = addr(0x20)
		runners   = []common.Address{addr(1), addr(2), addr(3)}
		agentID   = common.HexToHash("0x01")
	)

	registry := committee.NewRegistry(nil)
	agentReg := agents.NewMapRegistry()
	agentReg.Register(agentID, agents.Agent{
		MetadataURI:       "ipfs://meta",
		ContainerImageURI: "oci://answer-agent",
		Owner:             creator,
	})

	rebates := newRebateRecorder()
	eng, err := engine.New(&engine.Config{
		Owner:     addr(0xFF),
		Treasury:  addr(0xEE),
		SendValue: rebates.send,
		GasPrice:  func() *uint256.Int { return uint256.NewInt(1) },
	}, nil, registry, agentReg)
	require.NoError(t, err)

	hostSrv := agentHostServer(t, []byte("OK"), 150)
	dir := NewStaticDirectory()

	var services []*ValidatorService
	for _, self := range runners {
		v, err := NewValidatorService(context.Background(), &Config{
			Self:  self,
			Chain: local.NewChain(self, eng, registry, agentReg),
			Host:  hostapi.NewClient(hostSrv.URL, time.Second),
			Peers: dir,
		})
		require.NoError(t, err)
		services = append(services, v)
		dir.Set(self, quorumServer(t, v).URL)
	}

	for _, v := range services {
		v.Start()
	}
	t.Cleanup(func() {
		for _, v := range services {
			require.NoError(t, v.Stop())
		}
	})

	require.Eventually(t, func() bool {
		return len(registry.ActiveMembers()) == len(runners)
	}, 3*time.Second, 20*time.Millisecond)

	// Subscriptions attach asynchronously after Start.
	time.Sleep(100 * time.Millisecond)

	// A ledger-maximal payload keeps the quorum probes near their body
	// limit while still reaching consensus.
	payload := make([]byte, params.AgentNet().MaxPayloadBytes)
	copy(payload, "question")
	id, err := eng.CreateRequest(requester, eng.RequestDeposit(), agentID, common.Address{}, [4]byte{}, payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := eng.GetRequest(id)
		return err == nil && r.Status == engine.StatusSuccess
	}, 4*time.Second, 20*time.Millisecond)

	r, err := eng.GetRequest(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.SuccessCount(), uint64(2))
	require.NotNil(t, r.FinalCost)
	assert.False(t, r.FinalCost.IsZero())

	// Runners were paid and the requester got the unspent deposit back.
	paid := new(uint256.Int)
	for _, runner := range runners {
		paid.Add(paid, registry.PendingBalance(runner))
	}
	assert.False(t, paid.IsZero())
	assert.False(t, rebates.total(requester).IsZero())
	assert.False(t, registry.PendingBalance(creator).IsZero())
}

func TestEndToEnd_FailingAgentFinalizesFailed(t *testing.T) {
	prev := params.AgentNet()
	cfg := params.MinimalTestConfig()
	cfg.UpkeepInterval = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.SubmissionBudget = 500 * time.Millisecond
	cfg.MaxInvokeRetries = 0
	params.OverrideAgentNetConfig(cfg)
	t.Cleanup(func() { params.OverrideAgentNetConfig(prev) })

	self := addr(1)
	agentID := common.HexToHash("0x02")

	registry := committee.NewRegistry(nil)
	agentReg := agents.NewMapRegistry()
	agentReg.Register(agentID, agents.Agent{ContainerImageURI: "oci://broken", Owner: addr(0x20)})

	eng, err := engine.New(&engine.Config{
		Owner:            addr(0xFF),
		SubcommitteeSize: 1,
		Threshold:        1,
	}, nil, registry, agentReg)
	require.NoError(t, err)

	// Host refuses every image load.
	brokenHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(brokenHost.Close)

	v, err := NewValidatorService(context.Background(), &Config{
		Self:  self,
		Chain: local.NewChain(self, eng, registry, agentReg),
		Host:  hostapi.NewClient(brokenHost.URL, time.Second),
		Peers: NewStaticDirectory(),
	})
	require.NoError(t, err)
	v.Start()
	t.Cleanup(func() { require.NoError(t, v.Stop()) })

	require.Eventually(t, func() bool {
		return len(registry.ActiveMembers()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	id, err := eng.CreateRequest(addr(0x10), eng.RequestDeposit(), agentID, common.Address{}, [4]byte{}, []byte("q"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := eng.GetRequest(id)
		return err == nil && r.Status == engine.StatusFailed
	}, 4*time.Second, 20*time.Millisecond)
}
