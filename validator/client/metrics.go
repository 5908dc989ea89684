package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_heartbeats_sent_total",
		Help: "Liveness heartbeats successfully registered on chain.",
	})
	heartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_heartbeat_failures_total",
		Help: "Heartbeat attempts that failed and will be retried.",
	})
	tasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_tasks_started_total",
		Help: "Request tasks this runner started working on.",
	})
	tasksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentnet_validator_tasks_dropped_total",
		Help: "Request tasks dropped before a response was submitted.",
	}, []string{"reason"})
	responsesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_responses_submitted_total",
		Help: "Responses accepted by the request ledger.",
	})
	quorumRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_quorum_retries_total",
		Help: "Quorum probe rounds that fell short of threshold and were retried.",
	})
	quorumProbesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentnet_validator_quorum_probes_served_total",
		Help: "Inbound quorum probes answered, by verdict.",
	}, []string{"verdict"})
	executionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentnet_validator_execution_failures_total",
		Help: "Agent executions that failed terminally after retries.",
	})
	committeeEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentnet_validator_committee_epoch",
		Help: "Latest committee epoch observed by this runner.",
	})
)
