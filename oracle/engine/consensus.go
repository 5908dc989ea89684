package engine

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SubmitResponse records one elected validator's response and finalizes the
// request when the outcome is decided. Responses for an already-finalized
// request return nil: the earlier-ordered response won the race and the
// later one is an idempotent no-op.
func (e *Engine) SubmitResponse(
	caller common.Address,
	requestID uint64,
	result []byte,
	receipt common.Hash,
	cost *uint256.Int,
	success bool,
) error {
	e.mu.Lock()

	// Opportunistically time out stale neighbors before judging this
	// submission.
	events := e.upkeepLocked()

	r, err := e.lookupLocked(requestID)
	if err != nil {
		e.sendFinalized(events, e.mu.Unlock)
		return err
	}
	if r.Status.Finalized() {
		e.sendFinalized(events, e.mu.Unlock)
		return nil
	}
	if !r.isMember(caller) {
		e.sendFinalized(events, e.mu.Unlock)
		return errors.Wrapf(ErrNotSubcommitteeMember, "validator %s", caller.Hex())
	}
	if e.now().After(r.CreatedAt.Add(e.requestTimeout)) {
		e.sendFinalized(events, e.mu.Unlock)
		return ErrRequestTimedOut
	}
	if r.hasResponded(caller) {
		e.sendFinalized(events, e.mu.Unlock)
		return errors.Wrapf(ErrAlreadyResponded, "validator %s", caller.Hex())
	}

	if cost == nil {
		cost = new(uint256.Int)
	}
	r.Responses = append(r.Responses, Response{
		Validator: caller,
		Result:    append([]byte(nil), result...),
		Success:   success,
		Receipt:   receipt,
		Cost:      new(uint256.Int).Set(cost),
		Timestamp: e.now(),
	})
	if !success {
		r.FailureCount++
	}
	responsesAccepted.Inc()

	// Success-impossible guard runs first: once the remaining slots cannot
	// lift successCount to the threshold, no outcome but Failed is left.
	successCount := r.SuccessCount()
	remaining := uint64(len(r.Subcommittee)) - r.ResponseCount()
	switch {
	case successCount+remaining < r.Threshold:
		events = append(events, e.finalizeLocked(r, StatusFailed))
	case success && e.successReachedLocked(r):
		events = append(events, e.finalizeLocked(r, StatusSuccess))
	}

	e.sendFinalized(events, e.mu.Unlock)
	return nil
}

// successReachedLocked evaluates the mode-specific success condition.
func (e *Engine) successReachedLocked(r *Request) bool {
	switch r.Consensus {
	case Threshold:
		return r.SuccessCount() >= r.Threshold
	default: // Majority
		return majorityValue(r) != nil
	}
}

// majorityValue returns the earliest successful result value, in submission
// order, that at least threshold successful responses agree on byte-exactly.
// Nil means no value has reached the threshold yet.
func majorityValue(r *Request) []byte {
	for i := range r.Responses {
		if !r.Responses[i].Success {
			continue
		}
		count := uint64(0)
		for j := range r.Responses {
			if r.Responses[j].Success && bytes.Equal(r.Responses[i].Result, r.Responses[j].Result) {
				count++
			}
		}
		if count >= r.Threshold {
			return r.Responses[i].Result
		}
	}
	return nil
}

// medianCost computes the median of all response costs. Even counts take
// the integer mean of the two middle values; zero responses cost zero.
func medianCost(responses []Response) *uint256.Int {
	if len(responses) == 0 {
		return new(uint256.Int)
	}
	costs := make([]*uint256.Int, len(responses))
	for i := range responses {
		costs[i] = responses[i].Cost
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].Lt(costs[j]) })

	mid := len(costs) / 2
	if len(costs)%2 == 1 {
		return new(uint256.Int).Set(costs[mid])
	}
	// The mean is built from halves so two costs near the 256-bit ceiling
	// cannot wrap; the shifted-out low bits carry back in when both are set.
	lo, hi := costs[mid-1], costs[mid]
	m := new(uint256.Int).Rsh(lo, 1)
	m.Add(m, new(uint256.Int).Rsh(hi, 1))
	carry := new(uint256.Int).And(lo, hi)
	return m.Add(m, carry.And(carry, uint256.NewInt(1)))
}

// successfulResults returns the results of successful responses in
// submission order; this is the callback payload for every terminal status.
func successfulResults(r *Request) [][]byte {
	results := make([][]byte, 0, len(r.Responses))
	for i := range r.Responses {
		if r.Responses[i].Success {
			results = append(results, r.Responses[i].Result)
		}
	}
	return results
}

// finalizeLocked settles the request: median cost, capped callback with
// ceiling gas accounting, payout split, rebate. It must run under the
// engine lock and returns the finalization event for emission after the
// lock is released.
func (e *Engine) finalizeLocked(r *Request, status Status) *RequestFinalizedEvent {
	r.Status = status

	median := medianCost(r.Responses)
	validatorCosts := new(uint256.Int).Mul(median, uint256.NewInt(uint64(len(r.Subcommittee))))

	// The callback is charged its gas ceiling, not actual gas, so the final
	// cost is known before the call is made and settlement stays independent
	// of callback behavior.
	callbackGasCost := new(uint256.Int)
	invokeCallback := r.CallbackAddress != (common.Address{}) && e.callback != nil
	if invokeCallback && e.gasPrice != nil {
		callbackGasCost.Mul(uint256.NewInt(e.callbackGasLimit), e.gasPrice())
	}

	finalCost := new(uint256.Int).Add(validatorCosts, callbackGasCost)
	r.FinalCost = finalCost

	if invokeCallback {
		e.invokeCallback(r, status)
	}

	if !validatorCosts.IsZero() {
		e.settlePayoutsLocked(r, validatorCosts)
	}

	// Rebate the unused deposit, best effort. The requester is responsible
	// for accepting value; a failed send is logged and forgotten.
	if r.MaxCost != nil && finalCost.Lt(r.MaxCost) {
		rebate := new(uint256.Int).Sub(r.MaxCost, finalCost)
		if e.sendValue != nil {
			if err := e.sendValue(r.Requester, rebate); err != nil {
				log.WithError(err).WithField("requestId", r.ID).Warn("Rebate transfer failed")
			}
		}
		rebatesIssued.Inc()
	}

	requestsFinalized.WithLabelValues(status.String()).Inc()
	log.WithFields(logrus.Fields{
		"requestId": r.ID,
		"status":    status.String(),
		"median":    median.String(),
		"finalCost": finalCost.String(),
	}).Debug("Request finalized")

	return &RequestFinalizedEvent{RequestID: r.ID, Status: status}
}

// settlePayoutsLocked splits validatorCosts 10_000 bps between runners,
// the agent creator, and the protocol, and credits everything in one
// batched deposit. Floor-division remainders, a missing creator, and a
// missing treasury all fold into the protocol share; with no treasury the
// protocol share is retained by the engine.
func (e *Engine) settlePayoutsLocked(r *Request, validatorCosts *uint256.Int) {
	n := uint64(len(r.Subcommittee))
	bps := uint256.NewInt(10_000)

	runnerTotal := new(uint256.Int).Mul(validatorCosts, uint256.NewInt(e.runnerBps))
	runnerTotal.Div(runnerTotal, bps)
	perRunner := new(uint256.Int).Div(runnerTotal, uint256.NewInt(n))

	creatorTotal := new(uint256.Int)
	if r.AgentCreator != (common.Address{}) {
		creatorTotal.Mul(validatorCosts, uint256.NewInt(e.creatorBps))
		creatorTotal.Div(creatorTotal, bps)
	}

	runnerPaid := new(uint256.Int).Mul(perRunner, uint256.NewInt(n))
	protocolTotal := new(uint256.Int).Sub(validatorCosts, runnerPaid)
	protocolTotal.Sub(protocolTotal, creatorTotal)

	recipients := make([]common.Address, 0, len(r.Subcommittee)+2)
	amounts := make([]*uint256.Int, 0, len(r.Subcommittee)+2)
	total := new(uint256.Int)

	for _, member := range r.Subcommittee {
		recipients = append(recipients, member)
		amounts = append(amounts, new(uint256.Int).Set(perRunner))
		total.Add(total, perRunner)
	}
	if !creatorTotal.IsZero() {
		recipients = append(recipients, r.AgentCreator)
		amounts = append(amounts, creatorTotal)
		total.Add(total, creatorTotal)
	}
	if e.treasury != (common.Address{}) {
		recipients = append(recipients, e.treasury)
		amounts = append(amounts, protocolTotal)
		total.Add(total, protocolTotal)
	} else {
		e.retained.Add(e.retained, protocolTotal)
	}

	if err := e.committee.Deposit(total, recipients, amounts); err != nil {
		// Cannot happen with a consistent split; surfaced loudly if it does.
		log.WithError(err).WithField("requestId", r.ID).Error("Payout deposit rejected")
		return
	}
	payoutsSettled.Inc()
}

// invokeCallback delivers the consumer callback, absorbing error and panic.
func (e *Engine) invokeCallback(r *Request, status Status) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("requestId", r.ID).WithField("panic", rec).Warn("Callback panicked")
		}
	}()
	results := successfulResults(r)
	if err := e.callback.HandleResponse(r.CallbackAddress, r.CallbackSelector, r.ID, results, status, r.FinalCost); err != nil {
		log.WithError(err).WithField("requestId", r.ID).Debug("Callback returned error")
	}
}

// sendFinalized emits the collected finalization events after releasing the
// engine lock via unlock.
func (e *Engine) sendFinalized(events []*RequestFinalizedEvent, unlock func()) {
	unlock()
	for _, ev := range events {
		e.finalizedFeed.Send(ev)
	}
}
