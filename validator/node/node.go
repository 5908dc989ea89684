// Package node assembles a single-process agentnet validator: the oracle
// engine and committee registry run in-process, and the runner binds to
// them directly. This is the dev-mode deployment shape; a remote chain
// binding slots in behind the same Chain interface.
package node

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/somnia-agents/agentnet/async"
	"github.com/somnia-agents/agentnet/config/params"
	"github.com/somnia-agents/agentnet/io/logs"
	"github.com/somnia-agents/agentnet/monitoring/prometheus"
	"github.com/somnia-agents/agentnet/oracle/agents"
	"github.com/somnia-agents/agentnet/oracle/committee"
	"github.com/somnia-agents/agentnet/oracle/engine"
	"github.com/somnia-agents/agentnet/runtime"
	"github.com/somnia-agents/agentnet/validator/client"
	"github.com/somnia-agents/agentnet/validator/client/local"
	"github.com/somnia-agents/agentnet/validator/flags"
	"github.com/somnia-agents/agentnet/validator/hostapi"
)

var log = logrus.WithField("prefix", "node")

const hostCallTimeout = 30 * time.Second

// AgentNode handles the lifecycle of all services a validator runs.
type AgentNode struct {
	cliCtx   *cli.Context
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{}

	engine    *engine.Engine
	committee *committee.Registry
}

// NewAgentNode creates a node instance, sets up configuration options, and
// registers every required service.
func NewAgentNode(cliCtx *cli.Context) (*AgentNode, error) {
	if cliCtx.Bool(flags.MinimalConfigFlag.Name) {
		log.Info("Using minimal network parameters")
		params.OverrideAgentNetConfig(params.MinimalTestConfig())
	}

	selfHex := cliCtx.String(flags.ValidatorAddressFlag.Name)
	if !common.IsHexAddress(selfHex) {
		return nil, errors.Errorf("invalid validator address %q", selfHex)
	}
	self := common.HexToAddress(selfHex)

	registry := committee.NewRegistry(nil)
	agentReg, err := devAgents(cliCtx.StringSlice(flags.DevAgentFlag.Name))
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(&engine.Config{Owner: self}, nil, registry, agentReg)
	if err != nil {
		return nil, err
	}

	peers := client.NewStaticDirectory()
	for _, entry := range cliCtx.StringSlice(flags.PeerFlag.Name) {
		addr, endpoint, err := client.ParsePeerEntry(entry)
		if err != nil {
			return nil, err
		}
		peers.Set(addr, endpoint)
	}

	node := &AgentNode{
		cliCtx:    cliCtx,
		services:  runtime.NewServiceRegistry(),
		stop:      make(chan struct{}),
		engine:    eng,
		committee: registry,
	}

	hostEndpoint := cliCtx.String(flags.HostEndpointFlag.Name)
	log.WithField("endpoint", logs.MaskCredentials(hostEndpoint)).Info("Connecting to container host")

	validator, err := client.NewValidatorService(context.Background(), &client.Config{
		Self:  self,
		Chain: local.NewChain(self, eng, registry, agentReg),
		Host:  hostapi.NewClient(hostEndpoint, hostCallTimeout),
		Peers: peers,
	})
	if err != nil {
		return nil, err
	}
	if err := node.services.RegisterService(validator); err != nil {
		return nil, err
	}

	quorum := client.NewQuorumServer(cliCtx.String(flags.QuorumListenFlag.Name), validator)
	if err := node.services.RegisterService(quorum); err != nil {
		return nil, err
	}

	upkeep := newUpkeepService(eng)
	if err := node.services.RegisterService(upkeep); err != nil {
		return nil, err
	}

	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		monitoring := prometheus.NewService(cliCtx.String(flags.MonitoringAddrFlag.Name), node.services)
		if err := node.services.RegisterService(monitoring); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// Engine exposes the in-process request ledger, used by dev tooling to
// create requests against a running node.
func (n *AgentNode) Engine() *engine.Engine {
	return n.engine
}

// Start the node and kick off every registered service.
func (n *AgentNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the agent node")
	}()

	<-stop
}

// Close handles graceful shutdown of the system.
func (n *AgentNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping agent node")
	n.services.StopAll()
	close(n.stop)
}

// upkeepService periodically sweeps the in-process ledger so requests
// nobody responds to still finalize as timed out. On a remote chain this
// role belongs to keepers.
type upkeepService struct {
	ctx    context.Context
	cancel context.CancelFunc
	engine *engine.Engine
}

func newUpkeepService(eng *engine.Engine) *upkeepService {
	ctx, cancel := context.WithCancel(context.Background())
	return &upkeepService{ctx: ctx, cancel: cancel, engine: eng}
}

func (s *upkeepService) Start() {
	async.RunEvery(s.ctx, params.AgentNet().UpkeepInterval, s.engine.UpkeepRequests)
}

func (s *upkeepService) Stop() error {
	s.cancel()
	return nil
}

func (s *upkeepService) Status() error {
	return nil
}

func devAgents(entries []string) (agents.Registry, error) {
	reg := agents.NewMapRegistry()
	for _, entry := range entries {
		id, image, err := parseDevAgent(entry)
		if err != nil {
			return nil, err
		}
		reg.Register(id, agents.Agent{ContainerImageURI: image})
		log.WithFields(logrus.Fields{
			"agentId": id.Hex(),
			"image":   image,
		}).Info("Registered dev agent")
	}
	return reg, nil
}

func parseDevAgent(entry string) (common.Hash, string, error) {
	parts := strings.SplitN(entry, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return common.Hash{}, "", errors.Errorf("malformed dev agent entry %q, want 0xid=oci://image", entry)
	}
	return common.HexToHash(parts[0]), parts[1], nil
}
