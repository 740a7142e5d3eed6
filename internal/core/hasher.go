package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "RoundLedger:genesis:v1"

// StateHasher chains every emitted envelope into a tamper-evident log
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before the first event
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates hash[N] = SHA-256(prev_hash || sequence || payload)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, payload []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, payload)
	h.prevHash = hash
	return hash
}

// ChainHash computes one link without touching any hasher state
func ChainHash(prev [32]byte, sequence int64, payload []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(prev[:])

	// sequence, 8 bytes LE
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from a snapshot
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
