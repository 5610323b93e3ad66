package leveldb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// Key prefixes for LevelDB storage.
var (
	prefixAllocation = []byte("A:") // A:<epoch> -> EpochAllocation JSON
	prefixClaim      = []byte("C:") // C:<epoch>:<recipient> -> marker
	keyOwner         = []byte("M:owner")
	keySchemaVersion = []byte("M:schema_version")
)

const currentSchemaVersion = "v1"

var claimedMarker = []byte{1}

// LevelDBPersistence implements IRedeemPersistence on goleveldb.
// LevelDB has no transactions, so writers are serialized by mu and
// multi-key updates go through a single leveldb.Batch.
type LevelDBPersistence struct {
	db     *leveldb.DB
	path   string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewLevelDBPersistence opens (or creates) a database at path.
func NewLevelDBPersistence(path string, logger *zap.Logger) (*LevelDBPersistence, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", path, err)
	}

	lp := &LevelDBPersistence{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := lp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("LevelDB persistence initialized", "path", path)
	return lp, nil
}

func (l *LevelDBPersistence) initSchema() error {
	data, err := l.db.Get(keySchemaVersion, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return l.db.Put(keySchemaVersion, []byte(currentSchemaVersion), &opt.WriteOptions{Sync: true})
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if string(data) != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", data, currentSchemaVersion)
	}
	return nil
}

func makeAllocationKey(epoch uint64) []byte {
	return append(append([]byte{}, prefixAllocation...), persistence.EpochKey(epoch)...)
}

func makeClaimKey(k types.ClaimKey) []byte {
	return append(append([]byte{}, prefixClaim...), persistence.ClaimKeyString(k.Epoch, k.Recipient)...)
}

func syncWrite() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: true}
}

// SaveEpochAllocation stores a new allocation, refusing to overwrite.
func (l *LevelDBPersistence) SaveEpochAllocation(allocation *types.EpochAllocation) error {
	if allocation == nil {
		return fmt.Errorf("cannot save nil EpochAllocation")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return persistence.ErrClosed
	}

	key := makeAllocationKey(allocation.Epoch)
	exists, err := l.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("checking allocation existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
	}

	data, err := persistence.MarshalEpochAllocation(allocation)
	if err != nil {
		return err
	}

	if err := l.db.Put(key, data, syncWrite()); err != nil {
		return fmt.Errorf("writing allocation: %w", err)
	}
	return nil
}

// LoadEpochAllocation retrieves an allocation by epoch.
func (l *LevelDBPersistence) LoadEpochAllocation(epoch uint64) (*types.EpochAllocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, persistence.ErrClosed
	}

	data, err := l.db.Get(makeAllocationKey(epoch), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EpochAllocation: %w", err)
	}

	return persistence.UnmarshalEpochAllocation(data)
}

// ListEpochAllocations returns all allocations sorted by epoch.
// Keys are zero padded, so iteration order is already ascending.
func (l *LevelDBPersistence) ListEpochAllocations() ([]*types.EpochAllocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, persistence.ErrClosed
	}

	allocations := make([]*types.EpochAllocation, 0)

	iter := l.db.NewIterator(util.BytesPrefix(prefixAllocation), nil)
	defer iter.Release()

	for iter.Next() {
		allocation, err := persistence.UnmarshalEpochAllocation(iter.Value())
		if err != nil {
			l.logger.Sugar().Warnw("Failed to unmarshal EpochAllocation, skipping",
				"key", string(iter.Key()), "error", err)
			continue
		}
		allocations = append(allocations, allocation)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list EpochAllocations: %w", err)
	}

	return allocations, nil
}

// IsClaimed reports whether a claim record is set.
func (l *LevelDBPersistence) IsClaimed(epoch uint64, recipient common.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false, persistence.ErrClosed
	}

	claimed, err := l.db.Has(makeClaimKey(types.ClaimKey{Epoch: epoch, Recipient: recipient}), nil)
	if err != nil {
		return false, fmt.Errorf("failed to read claim record: %w", err)
	}
	return claimed, nil
}

// MarkClaimed sets all records in one batch.
func (l *LevelDBPersistence) MarkClaimed(keys []types.ClaimKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return persistence.ErrClosed
	}

	if persistence.HasDuplicateClaimKeys(keys) {
		return fmt.Errorf("%w: duplicate key in request", persistence.ErrClaimExists)
	}

	batch := new(leveldb.Batch)
	for _, k := range keys {
		key := makeClaimKey(k)
		exists, err := l.db.Has(key, nil)
		if err != nil {
			return fmt.Errorf("checking claim record: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", persistence.ErrClaimExists, k)
		}
		batch.Put(key, claimedMarker)
	}

	if err := l.db.Write(batch, syncWrite()); err != nil {
		return fmt.Errorf("writing claim records: %w", err)
	}
	return nil
}

// UnmarkClaimed clears records.
func (l *LevelDBPersistence) UnmarkClaimed(keys []types.ClaimKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return persistence.ErrClosed
	}

	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(makeClaimKey(k))
	}
	if err := l.db.Write(batch, syncWrite()); err != nil {
		return fmt.Errorf("deleting claim records: %w", err)
	}
	return nil
}

// SetOwner stores the administrator address.
func (l *LevelDBPersistence) SetOwner(owner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return persistence.ErrClosed
	}

	return l.db.Put(keyOwner, owner.Bytes(), syncWrite())
}

// GetOwner returns the administrator address.
func (l *LevelDBPersistence) GetOwner() (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return common.Address{}, persistence.ErrClosed
	}

	data, err := l.db.Get(keyOwner, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get owner: %w", err)
	}
	if len(data) != common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid owner data length: %d", len(data))
	}
	return common.BytesToAddress(data), nil
}

// Close shuts down the persistence layer
func (l *LevelDBPersistence) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close leveldb: %w", err)
	}

	l.logger.Sugar().Info("LevelDB persistence closed")
	return nil
}

// HealthCheck verifies the database is readable and carries a schema version.
func (l *LevelDBPersistence) HealthCheck() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return persistence.ErrClosed
	}

	if _, err := l.db.Get(keySchemaVersion, nil); err != nil {
		return fmt.Errorf("schema version not readable: %w", err)
	}
	return nil
}
