package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EpochAllocation is the commitment published by the administrator for one epoch.
// It is written exactly once and never mutated afterwards.
type EpochAllocation struct {
	Epoch uint64 `json:"epoch"`

	// Root is the merkle root over every (recipient, amount) leaf of the epoch
	Root common.Hash `json:"root"`

	// TotalAllocated is the sum of all claimable amounts. Informational only, it is
	// never checked against individual claims.
	TotalAllocated *big.Int `json:"totalAllocated"`

	// SeededAt is the unix timestamp (seconds) at which the root was stored
	SeededAt int64 `json:"seededAt"`
}

// Copy returns a deep copy so callers can't mutate stored state.
func (ea *EpochAllocation) Copy() *EpochAllocation {
	if ea == nil {
		return nil
	}
	var total *big.Int
	if ea.TotalAllocated != nil {
		total = new(big.Int).Set(ea.TotalAllocated)
	}
	return &EpochAllocation{
		Epoch:          ea.Epoch,
		Root:           ea.Root,
		TotalAllocated: total,
		SeededAt:       ea.SeededAt,
	}
}

// ClaimKey identifies one claim record.
type ClaimKey struct {
	Epoch     uint64
	Recipient common.Address
}

func (ck ClaimKey) String() string {
	return fmt.Sprintf("%d:%s", ck.Epoch, ck.Recipient.Hex())
}

// ClaimEntry is one (epoch, amount, proof) element of a claim request.
type ClaimEntry struct {
	Epoch  uint64
	Amount *big.Int
	Proof  []common.Hash
}

// ClaimReceipt describes a successful payout.
type ClaimReceipt struct {
	Recipient common.Address
	Epochs    []uint64
	Amount    *big.Int
}
