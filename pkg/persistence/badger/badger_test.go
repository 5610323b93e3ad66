package badger

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/logger"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

func newTestLogger(t *testing.T) *zap.Logger {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return l
}

func TestBadgerPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IRedeemPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), newTestLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_Persistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")

	// First instance - save data
	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	allocation := &types.EpochAllocation{
		Epoch:          42,
		Root:           common.HexToHash("0xabcdef"),
		TotalAllocated: big.NewInt(145000),
		SeededAt:       1700000000,
	}
	require.NoError(t, bp1.SaveEpochAllocation(allocation))
	require.NoError(t, bp1.MarkClaimed([]types.ClaimKey{{Epoch: 42, Recipient: recipient}}))
	require.NoError(t, bp1.SetOwner(owner))
	require.NoError(t, bp1.Close())

	// Second instance - verify data persisted
	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadEpochAllocation(42)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, allocation.Root, loaded.Root)
	assert.Equal(t, 0, allocation.TotalAllocated.Cmp(loaded.TotalAllocated))

	claimed, err := bp2.IsClaimed(42, recipient)
	require.NoError(t, err)
	assert.True(t, claimed)

	loadedOwner, err := bp2.GetOwner()
	require.NoError(t, err)
	assert.Equal(t, owner, loadedOwner)

	// write-once survives a restart too
	err = bp2.SaveEpochAllocation(&types.EpochAllocation{Epoch: 42, TotalAllocated: big.NewInt(1)})
	require.ErrorIs(t, err, persistence.ErrAllocationExists)
}

func TestBadgerPersistence_UnsupportedSchema(t *testing.T) {
	tmpDir := t.TempDir()

	opts := badgerdb.DefaultOptions(tmpDir)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	}))
	require.NoError(t, db.Close())

	_, err = NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestBadgerPersistence_RelativePath(t *testing.T) {
	tmpDir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(wd) }()

	bp, err := NewBadgerPersistence("data", newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	_, err = os.Stat(filepath.Join(tmpDir, "data"))
	assert.NoError(t, err)
}

// Ensure BadgerPersistence implements IRedeemPersistence
var _ persistence.IRedeemPersistence = (*BadgerPersistence)(nil)
