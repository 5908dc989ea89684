package client

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/oracle/engine"
)

// taskState tracks one in-flight request through the runner.
type taskState uint8

const (
	stateNew taskState = iota
	stateQualified
	stateQuorumProbed
	stateExecuting
	stateResponded
	stateDropped
)

func (s taskState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateQualified:
		return "qualified"
	case stateQuorumProbed:
		return "quorum_probed"
	case stateExecuting:
		return "executing"
	case stateResponded:
		return "responded"
	default:
		return "dropped"
	}
}

// Drop reasons for metrics.
const (
	dropNotMember = "not_member"
	dropSaturated = "saturated"
	dropNoQuorum  = "no_quorum"
	dropFinalized = "finalized"
	dropSubmit    = "submit_failed"
)

// runTask drives one request through qualification, quorum gating, agent
// execution, and submission. The task context is cancelled when peers
// finalize the request first; the deadline leaves a submission budget
// inside the request timeout.
func (v *ValidatorService) runTask(ctx context.Context, ev *engine.RequestCreatedEvent) {
	net := params.AgentNet()
	taskLog := log.WithFields(logrus.Fields{
		"requestId": ev.RequestID,
		"agentId":   ev.AgentID.Hex(),
	})
	tasksStarted.Inc()

	ctx, cancel := context.WithTimeout(ctx, net.RequestTimeout-net.SubmissionBudget)
	defer cancel()

	// Membership was confirmed at dispatch; the task starts qualified.
	state := stateQualified

	r, err := v.chain.GetRequest(ctx, ev.RequestID)
	if err != nil {
		taskLog.WithError(err).Debug("Request vanished before probing")
		tasksDropped.WithLabelValues(dropFinalized).Inc()
		return
	}
	if r.Status.Finalized() {
		tasksDropped.WithLabelValues(dropFinalized).Inc()
		return
	}

	if !v.awaitQuorum(ctx, ev, r.Threshold) {
		taskLog.Debug("Peer quorum not reached, dropping")
		tasksDropped.WithLabelValues(dropNoQuorum).Inc()
		return
	}
	state = stateQuorumProbed
	taskLog.WithField("state", state.String()).Debug("Quorum reached")

	state = stateExecuting
	started := time.Now()
	result := v.execute(ctx, ev, taskLog)
	elapsed := time.Since(started)

	if ctx.Err() != nil {
		// Finalized by peers or out of budget before submission.
		tasksDropped.WithLabelValues(dropFinalized).Inc()
		return
	}

	cost := v.quoter.Quote(result.Cost, elapsed)
	submitCtx, cancelSubmit := context.WithTimeout(v.ctx, net.SubmissionBudget)
	defer cancelSubmit()
	err = v.chain.SubmitResponse(submitCtx, ev.RequestID, result.Result, result.Receipt, cost, result.Success)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrAlreadyResponded), errors.Is(err, engine.ErrRequestNotFound), errors.Is(err, engine.ErrRequestTimedOut):
		// Someone (possibly an earlier attempt of ours) beat us to it;
		// treat as success.
		taskLog.WithError(err).Debug("Submission raced, treating as responded")
	default:
		taskLog.WithError(err).Error("Response submission failed")
		tasksDropped.WithLabelValues(dropSubmit).Inc()
		return
	}

	state = stateResponded
	responsesSubmitted.Inc()
	taskLog.WithFields(logrus.Fields{
		"state":   state.String(),
		"success": result.Success,
		"cost":    cost.String(),
		"elapsed": elapsed,
	}).Info("Response submitted")
}

// awaitQuorum probes subcommittee peers until threshold-many runners
// (including self) declare they will run, retrying with exponential backoff
// inside the task budget.
func (v *ValidatorService) awaitQuorum(ctx context.Context, ev *engine.RequestCreatedEvent, threshold uint64) bool {
	backoff := params.AgentNet().QuorumProbeBaseBackoff
	for {
		willing := v.probePeers(ctx, ev)
		if willing >= threshold {
			return true
		}
		quorumRetries.Inc()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

// execute loads and invokes the agent container, retrying transient
// failures a bounded number of times on the same image. Terminal failure
// yields success=false with an empty result so the engine can still
// progress.
func (v *ValidatorService) execute(ctx context.Context, ev *engine.RequestCreatedEvent, taskLog *logrus.Entry) *hostInvokeOutcome {
	failed := &hostInvokeOutcome{Success: false}

	agent, err := v.agent(ctx, ev.AgentID)
	if err != nil {
		taskLog.WithError(err).Warn("Agent metadata lookup failed")
		return failed
	}

	var lastErr error
	for attempt := 0; attempt <= params.AgentNet().MaxInvokeRetries; attempt++ {
		if ctx.Err() != nil {
			return failed
		}
		handle, err := v.host.LoadContainer(ctx, ev.AgentID, agent.ContainerImageURI)
		if err != nil {
			lastErr = err
			continue
		}
		res, err := v.host.Invoke(ctx, handle, ev.Payload)
		// The handle is garbage collected either way; loads are idempotent
		// on the host side.
		if rmErr := v.host.Remove(ctx, handle); rmErr != nil {
			taskLog.WithError(rmErr).Debug("Container handle cleanup failed")
		}
		if err != nil {
			lastErr = err
			continue
		}
		return &hostInvokeOutcome{
			Result:  res.Result,
			Receipt: res.Receipt,
			Cost:    res.Cost,
			Success: res.Success,
		}
	}
	taskLog.WithError(lastErr).Warn("Agent execution failed repeatedly")
	executionFailures.Inc()
	return failed
}

// hostInvokeOutcome is the task-local execution outcome, also used for the
// terminal-failure response.
type hostInvokeOutcome struct {
	Result  []byte
	Receipt common.Hash
	Cost    uint64
	Success bool
}
