package persistence

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

var (
	// ErrAllocationExists is returned when an epoch already has a stored allocation.
	ErrAllocationExists = errors.New("allocation already exists for epoch")

	// ErrClaimExists is returned when at least one claim record is already set.
	ErrClaimExists = errors.New("claim already recorded")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("persistence layer is closed")
)

// IRedeemPersistence stores the allocation ledger and claim records.
// All implementations must be thread-safe.
//
// The interface supports:
// - Write-once epoch allocations (root + total)
// - All-or-nothing claim flagging for single and batched claims
// - The current administrator address
// - Lifecycle management (close, health check)
type IRedeemPersistence interface {
	// Epoch Allocations

	// SaveEpochAllocation stores a new allocation.
	// Returns ErrAllocationExists if the epoch already has one; the stored record is left untouched.
	SaveEpochAllocation(allocation *types.EpochAllocation) error

	// LoadEpochAllocation retrieves the allocation for an epoch.
	// Returns nil if the epoch was never seeded, error only on storage failure.
	LoadEpochAllocation(epoch uint64) (*types.EpochAllocation, error)

	// ListEpochAllocations returns all allocations sorted by epoch (ascending).
	ListEpochAllocations() ([]*types.EpochAllocation, error)

	// Claim Records

	// IsClaimed reports whether the (epoch, recipient) pair has been claimed.
	IsClaimed(epoch uint64, recipient common.Address) (bool, error)

	// MarkClaimed sets every given record atomically.
	// Returns ErrClaimExists without writing anything if any record (or a duplicate key) is already set.
	MarkClaimed(keys []types.ClaimKey) error

	// UnmarkClaimed clears records set by a MarkClaimed whose payout then failed.
	// Idempotent.
	UnmarkClaimed(keys []types.ClaimKey) error

	// Ownership

	// SetOwner stores the administrator address.
	SetOwner(owner common.Address) error

	// GetOwner returns the administrator address, or the zero address if none was set.
	GetOwner() (common.Address, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
