// Package persistencetest holds the behaviour every IRedeemPersistence backend must share.
package persistencetest

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) persistence.IRedeemPersistence

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newAllocation(epoch uint64, root string) *types.EpochAllocation {
	return &types.EpochAllocation{
		Epoch:          epoch,
		Root:           common.HexToHash(root),
		TotalAllocated: big.NewInt(145000),
		SeededAt:       1700000000,
	}
}

// Run executes the shared suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndLoadAllocation", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		ea := newAllocation(1, "0x01")
		require.NoError(t, p.SaveEpochAllocation(ea))

		loaded, err := p.LoadEpochAllocation(1)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, ea.Epoch, loaded.Epoch)
		assert.Equal(t, ea.Root, loaded.Root)
		assert.Equal(t, 0, ea.TotalAllocated.Cmp(loaded.TotalAllocated))
		assert.Equal(t, ea.SeededAt, loaded.SeededAt)
	})

	t.Run("LoadAllocation_NotFound", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		loaded, err := p.LoadEpochAllocation(9999999)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveAllocation_Nil", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		err := p.SaveEpochAllocation(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil EpochAllocation")
	})

	t.Run("SaveAllocation_NoOverwrite", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		require.NoError(t, p.SaveEpochAllocation(newAllocation(1, "0x01")))
		err := p.SaveEpochAllocation(newAllocation(1, "0x02"))
		require.ErrorIs(t, err, persistence.ErrAllocationExists)

		loaded, err := p.LoadEpochAllocation(1)
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x01"), loaded.Root)
	})

	t.Run("ListAllocations_Sorted", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		for _, epoch := range []uint64{10, 2, 7, 1} {
			require.NoError(t, p.SaveEpochAllocation(newAllocation(epoch, fmt.Sprintf("0x%x", epoch))))
		}

		list, err := p.ListEpochAllocations()
		require.NoError(t, err)
		require.Len(t, list, 4)
		for i, epoch := range []uint64{1, 2, 7, 10} {
			assert.Equal(t, epoch, list[i].Epoch)
		}
	})

	t.Run("ListAllocations_Empty", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		list, err := p.ListEpochAllocations()
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("MarkClaimed", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		claimed, err := p.IsClaimed(1, alice)
		require.NoError(t, err)
		assert.False(t, claimed)

		require.NoError(t, p.MarkClaimed([]types.ClaimKey{{Epoch: 1, Recipient: alice}}))

		claimed, err = p.IsClaimed(1, alice)
		require.NoError(t, err)
		assert.True(t, claimed)

		// other epochs and recipients are independent
		claimed, err = p.IsClaimed(2, alice)
		require.NoError(t, err)
		assert.False(t, claimed)
		claimed, err = p.IsClaimed(1, bob)
		require.NoError(t, err)
		assert.False(t, claimed)

		err = p.MarkClaimed([]types.ClaimKey{{Epoch: 1, Recipient: alice}})
		require.ErrorIs(t, err, persistence.ErrClaimExists)
	})

	t.Run("MarkClaimed_AllOrNothing", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		require.NoError(t, p.MarkClaimed([]types.ClaimKey{{Epoch: 2, Recipient: alice}}))

		err := p.MarkClaimed([]types.ClaimKey{
			{Epoch: 1, Recipient: alice},
			{Epoch: 2, Recipient: alice},
			{Epoch: 3, Recipient: alice},
		})
		require.ErrorIs(t, err, persistence.ErrClaimExists)

		for _, epoch := range []uint64{1, 3} {
			claimed, err := p.IsClaimed(epoch, alice)
			require.NoError(t, err)
			assert.False(t, claimed, "epoch %d must stay unclaimed", epoch)
		}
	})

	t.Run("MarkClaimed_DuplicateKeys", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		err := p.MarkClaimed([]types.ClaimKey{{Epoch: 1, Recipient: alice}, {Epoch: 1, Recipient: alice}})
		require.ErrorIs(t, err, persistence.ErrClaimExists)

		claimed, err := p.IsClaimed(1, alice)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("UnmarkClaimed", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		keys := []types.ClaimKey{{Epoch: 1, Recipient: alice}, {Epoch: 2, Recipient: alice}}
		require.NoError(t, p.MarkClaimed(keys))
		require.NoError(t, p.UnmarkClaimed(keys))
		// idempotent
		require.NoError(t, p.UnmarkClaimed(keys))

		for _, k := range keys {
			claimed, err := p.IsClaimed(k.Epoch, k.Recipient)
			require.NoError(t, err)
			assert.False(t, claimed)
		}
		require.NoError(t, p.MarkClaimed(keys))
	})

	t.Run("MarkClaimed_Concurrent", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		var wg sync.WaitGroup
		var successes atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.MarkClaimed([]types.ClaimKey{{Epoch: 5, Recipient: bob}}); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("Owner", func(t *testing.T) {
		p := newStore(t)
		defer func() { _ = p.Close() }()

		owner, err := p.GetOwner()
		require.NoError(t, err)
		assert.Equal(t, common.Address{}, owner)

		require.NoError(t, p.SetOwner(alice))
		owner, err = p.GetOwner()
		require.NoError(t, err)
		assert.Equal(t, alice, owner)

		require.NoError(t, p.SetOwner(bob))
		owner, err = p.GetOwner()
		require.NoError(t, err)
		assert.Equal(t, bob, owner)
	})

	t.Run("Close", func(t *testing.T) {
		p := newStore(t)

		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())
		// idempotent
		require.NoError(t, p.Close())

		require.Error(t, p.HealthCheck())
		require.Error(t, p.SaveEpochAllocation(newAllocation(1, "0x01")))
		_, err := p.LoadEpochAllocation(1)
		require.Error(t, err)
		_, err = p.IsClaimed(1, alice)
		require.Error(t, err)
		require.Error(t, p.MarkClaimed([]types.ClaimKey{{Epoch: 1, Recipient: alice}}))
		_, err = p.GetOwner()
		require.Error(t, err)
	})
}
