// Package params defines important constants that are essential to agentnet
// services.
package params

import (
	"time"
)

// AgentNetConfig contains constant configs for nodes to participate in the
// agentnet oracle network.
type AgentNetConfig struct {
	// Committee liveness.
	HeartbeatInterval time.Duration // Window within which a validator must heartbeat to stay active.
	UpkeepInterval    time.Duration // Minimum spacing between committee upkeep runs.

	// Request lifecycle.
	RequestTimeout          time.Duration // Deadline for subcommittee responses after creation.
	DefaultSubcommitteeSize uint64        // Subcommittee size used by CreateRequest.
	DefaultThreshold        uint64        // Threshold used by CreateRequest.
	RequestBufferSize       uint64        // Capacity of the request ring.
	MaxPayloadBytes         int           // Upper bound on request payload carried in events.

	// Settlement.
	CallbackGasLimit uint64 // Hard gas cap for consumer callbacks.
	MaxPerAgentFee   uint64 // Deposit ceiling per subcommittee member, in wei.
	RunnerBps        uint64 // Basis points of validator costs paid to runners.
	CreatorBps       uint64 // Basis points paid to the agent creator.
	ProtocolBps      uint64 // Basis points paid to the protocol treasury.

	// Runner.
	MaxInflightRequests    int           // Concurrent in-flight request tasks per runner.
	QuorumProbeTimeout     time.Duration // Per-peer probe deadline.
	QuorumProbeBaseBackoff time.Duration // Initial backoff between probe rounds.
	QuorumRefusalTTL       time.Duration // How long a refusal answer is remembered.
	MaxInvokeRetries       int           // Agent invocation attempts before reporting failure.
	SubmissionBudget       time.Duration // Slice of RequestTimeout reserved for submission.
}

var agentNetConfig = MainnetConfig()

// AgentNet retrieves the agentnet config.
func AgentNet() *AgentNetConfig {
	return agentNetConfig
}

// OverrideAgentNetConfig by replacing the config. The preferred pattern is to
// call AgentNet(), change the specific parameters, and then call
// OverrideAgentNetConfig(c). Any subsequent calls to params.AgentNet() will
// return this new configuration.
func OverrideAgentNetConfig(c *AgentNetConfig) {
	agentNetConfig = c
}

// Copy returns a copy of the config object.
func (c *AgentNetConfig) Copy() *AgentNetConfig {
	config := *c
	return &config
}

// MainnetConfig returns the default network parameters.
func MainnetConfig() *AgentNetConfig {
	return &AgentNetConfig{
		HeartbeatInterval: 2 * time.Minute,
		UpkeepInterval:    1 * time.Minute,

		RequestTimeout:          5 * time.Minute,
		DefaultSubcommitteeSize: 3,
		DefaultThreshold:        2,
		RequestBufferSize:       1024,
		MaxPayloadBytes:         1 << 16,

		CallbackGasLimit: 200_000,
		MaxPerAgentFee:   1000,
		RunnerBps:        7000,
		CreatorBps:       2000,
		ProtocolBps:      1000,

		MaxInflightRequests:    16,
		QuorumProbeTimeout:     3 * time.Second,
		QuorumProbeBaseBackoff: 500 * time.Millisecond,
		QuorumRefusalTTL:       5 * time.Minute,
		MaxInvokeRetries:       2,
		SubmissionBudget:       30 * time.Second,
	}
}

// MinimalTestConfig returns parameters shrunk for fast unit tests: tight
// timeouts and a tiny request ring so wraparound is reachable.
func MinimalTestConfig() *AgentNetConfig {
	c := MainnetConfig().Copy()
	c.HeartbeatInterval = 2 * time.Second
	c.UpkeepInterval = time.Second
	c.RequestTimeout = 2 * time.Second
	c.RequestBufferSize = 8
	c.QuorumProbeTimeout = 250 * time.Millisecond
	c.QuorumProbeBaseBackoff = 10 * time.Millisecond
	c.SubmissionBudget = 250 * time.Millisecond
	return c
}
