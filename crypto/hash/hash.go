// Package hash includes all hashing primitives used across the agentnet
// protocol. Subcommittee election and request seeds are defined over
// Keccak-256, so every caller goes through this package rather than picking
// a hash on its own.
package hash

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 returns the Keccak-256 digest of the concatenation of data.
func Keccak256(data ...[]byte) [32]byte {
	var h [32]byte
	copy(h[:], crypto.Keccak256(data...))
	return h
}

// Hash returns the protocol hash of data as a common.Hash.
func Hash(data []byte) common.Hash {
	return common.Hash(Keccak256(data))
}

// Uint64 hashes the little-endian encoding of i. Used for per-request
// election seeds, which are derived purely from the request id.
func Uint64(i uint64) [32]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	return Keccak256(buf[:])
}
