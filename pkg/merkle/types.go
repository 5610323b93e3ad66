package merkle

import "github.com/ethereum/go-ethereum/common"

// Tree is a binary merkle tree with sorted-pair hashing.
// The tree uses keccak256 hashing for Solidity compatibility (OpenZeppelin MerkleProof).
type Tree struct {
	// leaves contains the leaf hashes in build order
	leaves []common.Hash

	// root is the merkle root hash
	root common.Hash

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = [root]
	levels [][]common.Hash
}

// Proof is the ordered list of sibling hashes from a leaf up to the root.
// Levels at which the node had no sibling are omitted, so the length varies.
type Proof []common.Hash

type treeOptions struct {
	sortLeaves bool
}

type TreeOption func(*treeOptions)

// WithSortedLeaves sorts the leaves byte-wise and drops duplicates before building.
// Matches merkletreejs with {sortLeaves: true, sortPairs: true}.
func WithSortedLeaves() TreeOption {
	return func(o *treeOptions) {
		o.sortLeaves = true
	}
}
