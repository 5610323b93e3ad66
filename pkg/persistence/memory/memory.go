package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IRedeemPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Allocation storage: epoch -> EpochAllocation
	allocations map[uint64]*types.EpochAllocation

	// Claim records, presence means claimed
	claims map[types.ClaimKey]struct{}

	owner common.Address

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL CLAIM RECORDS WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set REDEEM_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		allocations: make(map[uint64]*types.EpochAllocation),
		claims:      make(map[types.ClaimKey]struct{}),
	}
}

// SaveEpochAllocation stores a new allocation, refusing to overwrite.
func (m *MemoryPersistence) SaveEpochAllocation(allocation *types.EpochAllocation) error {
	if allocation == nil {
		return fmt.Errorf("cannot save nil EpochAllocation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if _, exists := m.allocations[allocation.Epoch]; exists {
		return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
	}

	m.allocations[allocation.Epoch] = allocation.Copy()
	return nil
}

// LoadEpochAllocation retrieves an allocation by epoch.
func (m *MemoryPersistence) LoadEpochAllocation(epoch uint64) (*types.EpochAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	allocation, exists := m.allocations[epoch]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return allocation.Copy(), nil
}

// ListEpochAllocations returns all allocations sorted by epoch.
func (m *MemoryPersistence) ListEpochAllocations() ([]*types.EpochAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	epochs := make([]uint64, 0, len(m.allocations))
	for epoch := range m.allocations {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool {
		return epochs[i] < epochs[j]
	})

	result := make([]*types.EpochAllocation, 0, len(epochs))
	for _, epoch := range epochs {
		result = append(result, m.allocations[epoch].Copy())
	}

	return result, nil
}

// IsClaimed reports whether a claim record is set.
func (m *MemoryPersistence) IsClaimed(epoch uint64, recipient common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, persistence.ErrClosed
	}

	_, claimed := m.claims[types.ClaimKey{Epoch: epoch, Recipient: recipient}]
	return claimed, nil
}

// MarkClaimed sets all records or none.
func (m *MemoryPersistence) MarkClaimed(keys []types.ClaimKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	if persistence.HasDuplicateClaimKeys(keys) {
		return fmt.Errorf("%w: duplicate key in request", persistence.ErrClaimExists)
	}
	for _, k := range keys {
		if _, claimed := m.claims[k]; claimed {
			return fmt.Errorf("%w: %s", persistence.ErrClaimExists, k)
		}
	}
	for _, k := range keys {
		m.claims[k] = struct{}{}
	}
	return nil
}

// UnmarkClaimed clears records.
func (m *MemoryPersistence) UnmarkClaimed(keys []types.ClaimKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	for _, k := range keys {
		delete(m.claims, k)
	}
	return nil
}

// SetOwner stores the administrator address.
func (m *MemoryPersistence) SetOwner(owner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.owner = owner
	return nil
}

// GetOwner returns the administrator address.
func (m *MemoryPersistence) GetOwner() (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return common.Address{}, persistence.ErrClosed
	}

	return m.owner, nil
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}

	return nil
}
