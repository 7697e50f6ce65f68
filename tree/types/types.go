package types

import "github.com/ethereum/go-ethereum/common"

const (
	// DefaultHeight is the height of the state trees accepted by the bridge
	DefaultHeight uint8 = 32
)

// Leaf is a (index, hash) pair of a state tree
type Leaf struct {
	Index uint32
	Hash  common.Hash
}

// Proof is a Merkle path from a leaf up to the root, bottom first
type Proof [DefaultHeight]common.Hash
