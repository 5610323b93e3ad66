// Package redeem implements the epoch allocation ledger and the claim engine.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// MaxRootRange bounds the number of epochs a single RootRange call may return.
const MaxRootRange = 10_000

// Ledger owns the epoch roots, claim flags and administrator identity.
//
// Every mutation (seed, ownership change, claim) holds mu for writing for its
// whole duration, including the token transfer of a claim. Queries hold it for
// reading, so they never see a flag that is about to be rolled back.
//
// Claims are therefore serialized with everything else: with an on-chain token
// each claim holds mu until its receipt arrives (bounded by the engine's payout
// timeout), and seeding, root queries and other claims wait behind it. Only
// HealthCheck skips the lock.
type Ledger struct {
	mu      sync.RWMutex
	store   persistence.IRedeemPersistence
	logger  *zap.Logger
	metrics metrics.Metrics
	now     func() time.Time
}

type LedgerOption func(*Ledger)

// WithMetrics records ledger activity.
func WithMetrics(m metrics.Metrics) LedgerOption {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithClock replaces time.Now for SeededAt timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger wraps store. When the store has no owner yet, initialOwner becomes
// the administrator; an owner already on record always wins.
func NewLedger(store persistence.IRedeemPersistence, initialOwner common.Address, logger *zap.Logger, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("persistence cannot be nil")
	}

	l := &Ledger{
		store:   store,
		logger:  logger,
		metrics: metrics.NewNopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	owner, err := store.GetOwner()
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	switch {
	case owner != (common.Address{}):
		if initialOwner != (common.Address{}) && initialOwner != owner {
			logger.Sugar().Warnw("Ignoring configured owner, ledger already has one",
				"configured", initialOwner.Hex(),
				"owner", owner.Hex(),
			)
		}
	case initialOwner == (common.Address{}):
		return nil, fmt.Errorf("ledger has no owner and no initial owner was given: %w", ErrInvalidOwner)
	default:
		if err := store.SetOwner(initialOwner); err != nil {
			return nil, fmt.Errorf("failed to store initial owner: %w", err)
		}
		owner = initialOwner
	}

	allocations, err := store.ListEpochAllocations()
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	for _, a := range allocations {
		l.metrics.SetLatestEpoch(a.Epoch)
	}

	logger.Sugar().Infow("Allocation ledger ready",
		"owner", owner.Hex(),
		"seededEpochs", len(allocations),
	)
	return l, nil
}

// requireOwner must be called with mu held.
func (l *Ledger) requireOwner(caller common.Address) error {
	owner, err := l.store.GetOwner()
	if err != nil {
		return fmt.Errorf("failed to load owner: %w", err)
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// SeedAllocations publishes the root of epoch. The root is not validated.
func (l *Ledger) SeedAllocations(ctx context.Context, caller common.Address, epoch uint64, root common.Hash, totalAllocated *big.Int) (*types.EpochAllocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if totalAllocated == nil {
		totalAllocated = new(big.Int)
	}
	if !types.IsUint256(totalAllocated) {
		return nil, fmt.Errorf("total allocated %s is not an unsigned 256-bit integer", totalAllocated)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	allocation := &types.EpochAllocation{
		Epoch:          epoch,
		Root:           root,
		TotalAllocated: new(big.Int).Set(totalAllocated),
		SeededAt:       l.now().Unix(),
	}
	if err := l.store.SaveEpochAllocation(allocation); err != nil {
		if errors.Is(err, persistence.ErrAllocationExists) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEpoch, epoch)
		}
		return nil, fmt.Errorf("failed to save allocation: %w", err)
	}

	l.metrics.IncAllocationsSeeded()
	l.metrics.SetLatestEpoch(epoch)
	l.logger.Sugar().Infow("Seeded epoch allocation",
		"epoch", epoch,
		"root", root.Hex(),
		"totalAllocated", totalAllocated.String(),
	)

	return allocation.Copy(), nil
}

// loadAllocation must be called with mu held (read or write).
func (l *Ledger) loadAllocation(epoch uint64) (*types.EpochAllocation, error) {
	allocation, err := l.store.LoadEpochAllocation(epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocation: %w", err)
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEpoch, epoch)
	}
	return allocation, nil
}

// Allocation returns the full record of a seeded epoch.
func (l *Ledger) Allocation(ctx context.Context, epoch uint64) (*types.EpochAllocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.loadAllocation(epoch)
}

// RootFor returns the root of a seeded epoch.
func (l *Ledger) RootFor(ctx context.Context, epoch uint64) (common.Hash, error) {
	allocation, err := l.Allocation(ctx, epoch)
	if err != nil {
		return common.Hash{}, err
	}
	return allocation.Root, nil
}

// RootRange returns the roots of epochs start..end inclusive. Unseeded epochs
// yield the zero hash.
func (l *Ledger) RootRange(ctx context.Context, start, end uint64) ([]common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	if end-start >= MaxRootRange {
		return nil, fmt.Errorf("%w: more than %d epochs", ErrInvalidRange, MaxRootRange)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	roots := make([]common.Hash, 0, end-start+1)
	for epoch := start; ; epoch++ {
		allocation, err := l.store.LoadEpochAllocation(epoch)
		if err != nil {
			return nil, fmt.Errorf("failed to load allocation %d: %w", epoch, err)
		}
		if allocation != nil {
			roots = append(roots, allocation.Root)
		} else {
			roots = append(roots, common.Hash{})
		}
		// end may be math.MaxUint64
		if epoch == end {
			break
		}
	}
	return roots, nil
}

// Allocations lists every seeded epoch in ascending order.
func (l *Ledger) Allocations(ctx context.Context) ([]*types.EpochAllocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.ListEpochAllocations()
}

// Claimed reports whether recipient has claimed epoch.
func (l *Ledger) Claimed(ctx context.Context, epoch uint64, recipient common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.IsClaimed(epoch, recipient)
}

// Owner returns the current administrator.
func (l *Ledger) Owner(ctx context.Context) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.store.GetOwner()
}

// TransferOwnership hands administration to newOwner.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}

	if err := l.store.SetOwner(newOwner); err != nil {
		return fmt.Errorf("failed to store owner: %w", err)
	}

	l.metrics.IncOwnershipTransfers()
	l.logger.Sugar().Infow("Ownership transferred",
		"previousOwner", caller.Hex(),
		"newOwner", newOwner.Hex(),
	)
	return nil
}

// HealthCheck reports whether the backing store is usable.
func (l *Ledger) HealthCheck() error {
	return l.store.HealthCheck()
}
