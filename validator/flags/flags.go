// Package flags defines the command line flags of the agentnet validator.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// ValidatorAddressFlag is the hex address this runner heartbeats and
	// submits responses as.
	ValidatorAddressFlag = &cli.StringFlag{
		Name:  "validator-address",
		Usage: "Hex address identifying this validator on the network",
	}
	// HostEndpointFlag points at the local container host API.
	HostEndpointFlag = &cli.StringFlag{
		Name:  "host-endpoint",
		Usage: "Base URL of the loopback container host API",
		Value: "http://127.0.0.1:7654",
	}
	// PeerFlag lists subcommittee peers as 0xaddress=endpoint entries.
	PeerFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "Subcommittee peer quorum endpoint as 0xaddress=http://host:port, repeatable",
	}
	// QuorumListenFlag is the address the quorum probe endpoint binds to.
	QuorumListenFlag = &cli.StringFlag{
		Name:  "quorum-listen",
		Usage: "Listen address for inbound quorum probes",
		Value: "127.0.0.1:9560",
	}
	// DevAgentFlag seeds the in-process agent registry in dev mode.
	DevAgentFlag = &cli.StringSliceFlag{
		Name:  "dev-agent",
		Usage: "Agent to register in dev mode as 0xid=oci://image, repeatable",
	}
	// MonitoringAddrFlag is the metrics and health listen address.
	MonitoringAddrFlag = &cli.StringFlag{
		Name:  "monitoring-address",
		Usage: "Listen address for prometheus metrics and health checks",
		Value: "127.0.0.1:9090",
	}
	// DisableMonitoringFlag turns the metrics endpoint off.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable the prometheus metrics endpoint",
	}
	// MinimalConfigFlag switches to the small test network parameters.
	MinimalConfigFlag = &cli.BoolFlag{
		Name:  "minimal-config",
		Usage: "Use minimal network parameters, suitable for local testing",
	}
	// VerbosityFlag adjusts the logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal)",
		Value: "info",
	}
	// LogFileFlag mirrors log output to a file.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Write log output to the given file as well as stdout",
	}
	// LogFormatFlag selects the log output format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format, one of: text, json, fluentd",
		Value: "text",
	}
)
