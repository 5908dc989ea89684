// Package agents defines the agent registry collaborator consumed by the
// oracle engine and the validator runner. The registry maps an agent id to
// its metadata URI, container image URI, and creator. Registration and
// curation of agents happen elsewhere; this package only answers lookups.
package agents

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrAgentNotFound is returned when an agent id has no registry entry.
var ErrAgentNotFound = errors.New("agent not found")

// Agent holds the registry record for a single agent.
type Agent struct {
	MetadataURI       string
	ContainerImageURI string
	Owner             common.Address
}

// Registry answers agent lookups.
type Registry interface {
	Agent(id common.Hash) (*Agent, error)
}

// MapRegistry is an in-memory Registry used by the dev assembly and tests.
type MapRegistry struct {
	mu     sync.RWMutex
	agents map[common.Hash]Agent
}

// NewMapRegistry creates an empty in-memory registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{agents: make(map[common.Hash]Agent)}
}

// Register adds or replaces the record for id.
func (m *MapRegistry) Register(id common.Hash, a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[id] = a
}

// Agent implements Registry.
func (m *MapRegistry) Agent(id common.Hash) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errors.Wrapf(ErrAgentNotFound, "id %#x", id)
	}
	return &a, nil
}
