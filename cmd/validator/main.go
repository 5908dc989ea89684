// Package main runs an agentnet validator: a daemon that heartbeats into
// the committee registry, watches for request events, coordinates quorum
// with its subcommittee peers, executes agent containers through the local
// host API, and submits responses to the request ledger.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/somnia-agents/agentnet/io/logs"
	"github.com/somnia-agents/agentnet/validator/flags"
	"github.com/somnia-agents/agentnet/validator/node"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.ValidatorAddressFlag,
	flags.HostEndpointFlag,
	flags.PeerFlag,
	flags.QuorumListenFlag,
	flags.DevAgentFlag,
	flags.MonitoringAddrFlag,
	flags.DisableMonitoringFlag,
	flags.MinimalConfigFlag,
	flags.VerbosityFlag,
	flags.LogFileFlag,
	flags.LogFormatFlag,
}

func startValidator(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String(flags.VerbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	n, err := node.NewAgentNode(cliCtx)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}

func main() {
	app := &cli.App{
		Name:   "agentnet-validator",
		Usage:  "runs an agentnet oracle validator that executes containerized agents on demand",
		Flags:  appFlags,
		Action: startValidator,
		Before: func(ctx *cli.Context) error {
			switch format := ctx.String(flags.LogFormatFlag.Name); format {
			case "text":
				formatter := new(prefixed.TextFormatter)
				formatter.TimestampFormat = "2006-01-02 15:04:05"
				formatter.FullTimestamp = true
				// ANSI color codes read as gibberish in log files.
				formatter.DisableColors = ctx.String(flags.LogFileFlag.Name) != ""
				logrus.SetFormatter(formatter)
			case "fluentd":
				logrus.SetFormatter(joonix.NewFormatter())
			case "json":
				logrus.SetFormatter(&logrus.JSONFormatter{})
			default:
				return fmt.Errorf("unknown log format %s", format)
			}
			if logFileName := ctx.String(flags.LogFileFlag.Name); logFileName != "" {
				if err := logs.ConfigurePersistentLogging(logFileName); err != nil {
					log.WithError(err).Error("Failed to configure logging to disk")
				}
			}
			runtime.GOMAXPROCS(runtime.NumCPU())
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
