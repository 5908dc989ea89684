package committee

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/somnia-agents/agentnet/crypto/hash"
)

// ErrInsufficientMembers is returned when an election asks for more
// validators than are currently active.
var ErrInsufficientMembers = errors.New("insufficient active committee members")

// ElectSubcommittee draws n validators without replacement from the active
// set using a seeded partial Fisher-Yates shuffle. The draw is a pure
// function of the active roster order, n, and seed: any two calls within one
// epoch return the same subcommittee in the same order.
//
// For each position i the swap partner is i + Keccak256(seed || le64(i))
// mod (remaining), and the first n entries of the shuffled roster form the
// subcommittee.
func (r *Registry) ElectSubcommittee(n uint64, seed [32]byte) ([]common.Address, error) {
	r.mu.RLock()
	active := r.activeLocked()
	r.mu.RUnlock()

	if n > uint64(len(active)) {
		return nil, errors.Wrapf(ErrInsufficientMembers, "want %d, have %d", n, len(active))
	}

	var buf [8]byte
	for i := uint64(0); i < n; i++ {
		binary.LittleEndian.PutUint64(buf[:], i)
		h := hash.Keccak256(seed[:], buf[:])

		remaining := uint64(len(active)) - i
		offset := new(uint256.Int).SetBytes(h[:])
		offset.Mod(offset, uint256.NewInt(remaining))

		j := i + offset.Uint64()
		active[i], active[j] = active[j], active[i]
	}
	return active[:n], nil
}
