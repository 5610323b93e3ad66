package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixAllocation  = "allocation:"
	keyPrefixClaim       = "claim:"
	keyOwner             = "owner:current"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

var claimedMarker = []byte{1}

// BadgerPersistence is the durable, disk-based IRedeemPersistence.
// Claim flags are written inside a single badger transaction so a batch is
// recorded entirely or not at all.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence opens (or creates) a database at dataPath with SyncWrites
// enabled and starts the value log GC loop.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newZapBadgerLogger(logger)
	opts.SyncWrites = true // a lost claim flag means a double payout
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		existing, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}
		if string(existing) != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existing, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func allocationKey(epoch uint64) []byte {
	return []byte(keyPrefixAllocation + persistence.EpochKey(epoch))
}

func claimKey(k types.ClaimKey) []byte {
	return []byte(keyPrefixClaim + persistence.ClaimKeyString(k.Epoch, k.Recipient))
}

// get returns a copy of the value at key, or nil when absent.
func get(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// SaveEpochAllocation stores a new allocation, refusing to overwrite.
func (b *BadgerPersistence) SaveEpochAllocation(allocation *types.EpochAllocation) error {
	if allocation == nil {
		return fmt.Errorf("cannot save nil EpochAllocation")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalEpochAllocation(allocation)
	if err != nil {
		return err
	}

	key := allocationKey(allocation.Epoch)
	err = b.db.Update(func(txn *badgerdb.Txn) error {
		existing, err := get(txn, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
	}
	return err
}

// LoadEpochAllocation retrieves an allocation by epoch.
func (b *BadgerPersistence) LoadEpochAllocation(epoch uint64) (*types.EpochAllocation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = get(txn, allocationKey(epoch))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load EpochAllocation: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return persistence.UnmarshalEpochAllocation(data)
}

// ListEpochAllocations returns all allocations sorted by epoch.
func (b *BadgerPersistence) ListEpochAllocations() ([]*types.EpochAllocation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	allocations := make([]*types.EpochAllocation, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixAllocation)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			allocation, err := persistence.UnmarshalEpochAllocation(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal EpochAllocation, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			allocations = append(allocations, allocation)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list EpochAllocations: %w", err)
	}

	// Sort by epoch (ascending)
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Epoch < allocations[j].Epoch
	})

	return allocations, nil
}

// IsClaimed reports whether a claim record is set.
func (b *BadgerPersistence) IsClaimed(epoch uint64, recipient common.Address) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, persistence.ErrClosed
	}

	var claimed bool
	err := b.db.View(func(txn *badgerdb.Txn) error {
		data, err := get(txn, claimKey(types.ClaimKey{Epoch: epoch, Recipient: recipient}))
		claimed = data != nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to read claim record: %w", err)
	}
	return claimed, nil
}

// MarkClaimed sets all records in one transaction.
func (b *BadgerPersistence) MarkClaimed(keys []types.ClaimKey) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	if persistence.HasDuplicateClaimKeys(keys) {
		return fmt.Errorf("%w: duplicate key in request", persistence.ErrClaimExists)
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range keys {
			existing, err := get(txn, claimKey(k))
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", persistence.ErrClaimExists, k)
			}
		}
		for _, k := range keys {
			if err := txn.Set(claimKey(k), claimedMarker); err != nil {
				return err
			}
		}
		return nil
	})
	// A conflicting commit means a concurrent writer flagged one of our keys first
	if errors.Is(err, badgerdb.ErrConflict) {
		return fmt.Errorf("%w: concurrent claim", persistence.ErrClaimExists)
	}
	return err
}

// UnmarkClaimed clears records.
func (b *BadgerPersistence) UnmarkClaimed(keys []types.ClaimKey) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(claimKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetOwner stores the administrator address.
func (b *BadgerPersistence) SetOwner(owner common.Address) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyOwner), owner.Bytes())
	})
}

// GetOwner returns the administrator address.
func (b *BadgerPersistence) GetOwner() (common.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return common.Address{}, persistence.ErrClosed
	}

	var owner common.Address
	err := b.db.View(func(txn *badgerdb.Txn) error {
		data, err := get(txn, []byte(keyOwner))
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		if len(data) != common.AddressLength {
			return fmt.Errorf("invalid owner data length: %d", len(data))
		}
		owner = common.BytesToAddress(data)
		return nil
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get owner: %w", err)
	}
	return owner, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the database is readable and carries a schema version.
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
