package tree

import (
	"fmt"

	"github.com/dmrl789/ippan-bridge/tree/types"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	// EmptyProof is a proof full of zero hashes
	EmptyProof = types.Proof{}
)

// HashParent computes the keccak256 hash of a pair of sibling nodes
func HashParent(left, right common.Hash) common.Hash {
	var parent common.Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(left[:])
	hasher.Write(right[:])
	copy(parent[:], hasher.Sum(nil))
	return parent
}

func generateZeroHashes(height uint8) []common.Hash {
	var zeroHashes = []common.Hash{
		{},
	}
	// This generates a leaf = HashZero in position 0. In the rest of the positions that
	// are equivalent to the ascending levels, we set the hashes of the nodes.
	// So all nodes from level i=5 will have the same value and same children nodes.
	for i := 1; i <= int(height); i++ {
		zeroHashes = append(zeroHashes, HashParent(zeroHashes[i-1], zeroHashes[i-1]))
	}
	return zeroHashes
}

// CalculateRoot rebuilds the root from a leaf hash, its Merkle path and its
// index inside the tree.
func CalculateRoot(leafHash common.Hash, proof types.Proof, index uint32) common.Hash {
	node := leafHash

	// Compute the root following the path of the proof, the index bit at
	// height h decides if the sibling sits on the left or on the right
	for h := uint8(0); h < types.DefaultHeight; h++ {
		if index&(1<<h) > 0 {
			node = HashParent(proof[h], node)
		} else {
			node = HashParent(node, proof[h])
		}
	}
	return node
}

// VerifyProof reports whether proof is a valid inclusion path for leafHash at
// index under root.
func VerifyProof(root, leafHash common.Hash, proof types.Proof, index uint32) bool {
	return CalculateRoot(leafHash, proof, index) == root
}

// AppendOnlyTree is an in-memory tree where leaves are added sequentially.
// It is used by operators to build commit state roots and inclusion proofs,
// and by tests to produce fixtures.
type AppendOnlyTree struct {
	zeroHashes []common.Hash
	leaves     []common.Hash
}

// NewAppendOnlyTree creates an empty AppendOnlyTree
func NewAppendOnlyTree() *AppendOnlyTree {
	return &AppendOnlyTree{
		zeroHashes: generateZeroHashes(types.DefaultHeight),
	}
}

// AddLeaf appends a leaf hash and returns its index
func (t *AppendOnlyTree) AddLeaf(hash common.Hash) uint32 {
	t.leaves = append(t.leaves, hash)
	return uint32(len(t.leaves) - 1)
}

// Count returns the number of leaves on the tree
func (t *AppendOnlyTree) Count() uint32 {
	return uint32(len(t.leaves))
}

// Root returns the current root of the tree
func (t *AppendOnlyTree) Root() common.Hash {
	level := make([]common.Hash, len(t.leaves))
	copy(level, t.leaves)
	for h := uint8(0); h < types.DefaultHeight; h++ {
		if len(level) == 0 {
			return t.zeroHashes[types.DefaultHeight]
		}
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := t.zeroHashes[h]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashParent(level[i], right))
		}
		level = next
	}
	return level[0]
}

// GetProof returns the Merkle path for the leaf at the given index
func (t *AppendOnlyTree) GetProof(index uint32) (types.Proof, error) {
	if index >= uint32(len(t.leaves)) {
		return EmptyProof, fmt.Errorf("index %d out of range, tree has %d leaves", index, len(t.leaves))
	}
	var proof types.Proof
	level := make([]common.Hash, len(t.leaves))
	copy(level, t.leaves)
	idx := index
	for h := uint8(0); h < types.DefaultHeight; h++ {
		sibling := t.zeroHashes[h]
		if int(idx^1) < len(level) {
			sibling = level[idx^1]
		}
		proof[h] = sibling

		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := t.zeroHashes[h]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashParent(level[i], right))
		}
		level = next
		idx /= 2
	}
	return proof, nil
}
