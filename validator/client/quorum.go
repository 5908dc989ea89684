package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/kevinms/leakybucket-go"
	gocache "github.com/patrickmn/go-cache"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/engine"
)

// Quorum probe wire format. Runners exchange these over plain HTTP before
// committing to an execution, so that fewer than threshold-many willing
// peers never burns container time.
type probeRequest struct {
	RequestID uint64         `json:"requestId"`
	AgentID   common.Hash    `json:"agentId"`
	Self      common.Address `json:"self"`
	Payload   []byte         `json:"payload"`
}

type probeResponse struct {
	WillRun bool `json:"willRun"`
}

const (
	probeRateLimit     = 64
	probeBurstLimit    = 128
	verdictWilling     = "willing"
	verdictRefused     = "refused"
	verdictRateLimited = "rate_limited"
)

// QuorumHandler answers inbound willingness probes from subcommittee peers.
// Answers are sticky: a refusal is cached and repeated for its TTL so a
// peer polling the same request gets a consistent view.
type QuorumHandler struct {
	validator *ValidatorService
	limiter   *leakybucket.Collector
	limiterMu sync.Mutex
}

// NewQuorumHandler wires the probe endpoint for a runner.
func NewQuorumHandler(v *ValidatorService) *QuorumHandler {
	return &QuorumHandler{
		validator: v,
		limiter:   leakybucket.NewCollector(probeRateLimit, probeBurstLimit, true /* deleteEmptyBuckets */),
	}
}

// RegisterRoutes attaches the probe endpoint to a router.
func (h *QuorumHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/quorum", h.handleProbe).Methods(http.MethodPost)
}

func (h *QuorumHandler) handleProbe(w http.ResponseWriter, r *http.Request) {
	// The payload travels base64-encoded inside the JSON body, so the cap
	// is sized for the encoded form of a ledger-maximal payload plus the
	// fixed fields.
	maxBody := int64(base64.StdEncoding.EncodedLen(params.AgentNet().MaxPayloadBytes)) + 1024

	var req probeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "malformed probe", http.StatusBadRequest)
		return
	}

	h.limiterMu.Lock()
	allowed := h.limiter.Add(req.Self.Hex(), 1) > 0
	h.limiterMu.Unlock()
	if !allowed {
		quorumProbesServed.WithLabelValues(verdictRateLimited).Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	willRun := h.validator.willRun(r.Context(), req.RequestID)
	verdict := verdictWilling
	if !willRun {
		verdict = verdictRefused
	}
	quorumProbesServed.WithLabelValues(verdict).Inc()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&probeResponse{WillRun: willRun})
}

// willRun decides whether this runner commits to executing a request: it
// must be an elected member, the request must still be pending, and a free
// concurrency slot must exist. A refusal is remembered so later probes for
// the same request stay refused even if capacity frees up.
func (v *ValidatorService) willRun(ctx context.Context, requestID uint64) bool {
	key := refusalKey(requestID)
	if _, refused := v.refusals.Get(key); refused {
		return false
	}

	// A task already running for this request is the strongest form of
	// willingness, even when the runner is otherwise saturated.
	v.cancelsMu.Lock()
	_, running := v.cancels[requestID]
	v.cancelsMu.Unlock()
	if running {
		return true
	}

	r, err := v.chain.GetRequest(ctx, requestID)
	ok := err == nil && !r.Status.Finalized() && v.isMember(r.Subcommittee) && v.hasCapacity()
	if !ok {
		v.refusals.Set(key, struct{}{}, gocache.DefaultExpiration)
	}
	return ok
}

func (v *ValidatorService) isMember(subcommittee []common.Address) bool {
	for _, m := range subcommittee {
		if m == v.self {
			return true
		}
	}
	return false
}

func refusalKey(requestID uint64) string {
	return fmt.Sprintf("req-%d", requestID)
}

// probePeers asks every other subcommittee member whether it will run the
// request, returning the willing count with self included. Unreachable or
// unknown peers count as unwilling for this round; the caller retries.
func (v *ValidatorService) probePeers(ctx context.Context, ev *engine.RequestCreatedEvent) uint64 {
	willing := uint64(1) // self holds a slot already

	body, err := json.Marshal(&probeRequest{
		RequestID: ev.RequestID,
		AgentID:   ev.AgentID,
		Self:      v.self,
		Payload:   ev.Payload,
	})
	if err != nil {
		return willing
	}

	probeCtx, cancel := context.WithTimeout(ctx, params.AgentNet().QuorumProbeTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, member := range ev.Subcommittee {
		if member == v.self {
			continue
		}
		endpoint, ok := v.peers.Endpoint(member)
		if !ok {
			log.WithField("peer", member.Hex()).Debug("No endpoint for subcommittee peer")
			continue
		}
		wg.Add(1)
		go func(peer common.Address, endpoint string) {
			defer wg.Done()
			if v.probeOne(probeCtx, endpoint, body) {
				mu.Lock()
				willing++
				mu.Unlock()
			}
		}(member, endpoint)
	}
	wg.Wait()
	return willing
}

func (v *ValidatorService) probeOne(ctx context.Context, endpoint string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/quorum", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.WillRun
}
