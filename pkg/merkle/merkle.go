package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmptyTree           = errors.New("cannot build merkle tree from empty leaf list")
	ErrLeafIndexOutOfRange = errors.New("leaf index out of range")
	ErrLeafNotFound        = errors.New("leaf not found in tree")
)

// NewTree builds a merkle tree bottom-up from the given leaves.
//
// Adjacent nodes are paired in array order and hashed as keccak256(min || max), so
// verification never needs to know whether a sibling was on the left or the right.
// If a level has an odd number of nodes the last one is carried up unchanged.
func NewTree(leaves []common.Hash, opts ...TreeOption) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	o := &treeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	layer := make([]common.Hash, len(leaves))
	copy(layer, leaves)
	if o.sortLeaves {
		layer = SortLeaves(layer)
	}

	levels := [][]common.Hash{layer}
	current := layer
	for len(current) > 1 {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, HashPair(current[i], current[i+1]))
			} else {
				next = append(next, current[i])
			}
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{
		leaves: layer,
		root:   current[0],
		levels: levels,
	}, nil
}

// Root returns the merkle root.
func (t *Tree) Root() common.Hash {
	return t.root
}

// Leaves returns a copy of the leaves in the order they were hashed.
func (t *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Depth is the number of levels above the leaves.
func (t *Tree) Depth() int {
	return len(t.levels) - 1
}

// ProofFor returns the sibling path for the leaf at leafIndex.
func (t *Tree) ProofFor(leafIndex int) (Proof, error) {
	if leafIndex < 0 || leafIndex >= len(t.leaves) {
		return nil, fmt.Errorf("%w: %d (tree has %d leaves)", ErrLeafIndexOutOfRange, leafIndex, len(t.leaves))
	}

	proof := make(Proof, 0, t.Depth())
	index := leafIndex
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		sibling := index ^ 1
		// odd carry-up, nothing to hash against at this level
		if sibling < len(nodes) {
			proof = append(proof, nodes[sibling])
		}
		index /= 2
	}
	return proof, nil
}

// ProofForLeaf looks up the first occurrence of leaf and returns its proof.
func (t *Tree) ProofForLeaf(leaf common.Hash) (Proof, error) {
	for i, l := range t.leaves {
		if l == leaf {
			return t.ProofFor(i)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, leaf.Hex())
}

// VerifyProof folds proof onto leaf and compares the result to root.
// It says nothing about whether root itself is trustworthy.
func VerifyProof(root, leaf common.Hash, proof []common.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed == root
}

// HashPair computes keccak256 over the two hashes in ascending byte order.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	data := make([]byte, 64)
	copy(data[0:32], a[:])
	copy(data[32:64], b[:])
	return crypto.Keccak256Hash(data)
}

// SortLeaves returns the leaves sorted ascending with duplicates removed.
// The input slice is not modified.
func SortLeaves(leaves []common.Hash) []common.Hash {
	sorted := make([]common.Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	out := sorted[:0]
	for i, l := range sorted {
		if i > 0 && l == sorted[i-1] {
			continue
		}
		out = append(out, l)
	}
	return out
}
