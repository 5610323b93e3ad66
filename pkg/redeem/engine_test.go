package redeem

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	memtoken "github.com/Layr-Labs/merkle-redeem-go/pkg/token/memory"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

func TestNewEngine_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cfg  *EngineConfig
	}{
		{"nil config", nil},
		{"no ledger", &EngineConfig{Token: f.payout, Treasury: treasury}},
		{"no token", &EngineConfig{Ledger: f.ledger, Treasury: treasury}},
		{"no treasury", &EngineConfig{Ledger: f.ledger, Token: f.payout}},
		{"negative payout timeout", &EngineConfig{Ledger: f.ledger, Token: f.payout, Treasury: treasury, PayoutTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestEngine_ClaimEpoch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000, carol: 3000})
	f.seed(t, d)

	receipt, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	assert.Equal(t, alice, receipt.Recipient)
	assert.Equal(t, []uint64{1}, receipt.Epochs)
	assert.Equal(t, int64(1000), receipt.Amount.Int64())

	assert.Equal(t, int64(1000), f.token.Balance(alice).Int64())
	assert.Equal(t, int64(999_000), f.token.Balance(treasury).Int64())

	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.True(t, claimed)

	// others are unaffected
	claimed, err = f.ledger.Claimed(ctx, 1, bob)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestEngine_ClaimEpoch_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)

	_, err = f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	assert.Equal(t, 1, f.payout.transferCount())
	assert.Equal(t, int64(1000), f.token.Balance(alice).Int64())
}

func TestEngine_ClaimEpoch_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000, carol: 3000})
	f.seed(t, d)

	tests := []struct {
		name      string
		recipient common.Address
		epoch     uint64
		amount    *big.Int
		proof     []common.Hash
		wantErr   error
	}{
		{
			name:      "unseeded epoch",
			recipient: alice, epoch: 2, amount: d.amounts[alice], proof: d.proofs[alice],
			wantErr: ErrUnknownEpoch,
		},
		{
			name:      "wrong amount",
			recipient: alice, epoch: 1, amount: big.NewInt(1001), proof: d.proofs[alice],
			wantErr: ErrInvalidProof,
		},
		{
			name:      "someone else's allocation",
			recipient: alice, epoch: 1, amount: d.amounts[bob], proof: d.proofs[bob],
			wantErr: ErrInvalidProof,
		},
		{
			name:      "empty proof",
			recipient: alice, epoch: 1, amount: d.amounts[alice], proof: nil,
			wantErr: ErrInvalidProof,
		},
		{
			name:      "amount out of range",
			recipient: alice, epoch: 1, amount: big.NewInt(-1), proof: d.proofs[alice],
			wantErr: ErrInvalidProof,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ClaimEpoch(ctx, tt.recipient, tt.epoch, tt.amount, tt.proof)
			require.ErrorIs(t, err, tt.wantErr)

			claimed, err := f.ledger.Claimed(ctx, tt.epoch, tt.recipient)
			require.NoError(t, err)
			assert.False(t, claimed)
		})
	}
	assert.Equal(t, 0, f.payout.transferCount())
}

func TestEngine_ClaimEpoch_PayoutGoesToRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	// whoever submits, the allocation is paid to the address in the leaf
	_, err := f.engine.ClaimEpoch(ctx, bob, 1, d.amounts[bob], d.proofs[bob])
	require.NoError(t, err)
	assert.Equal(t, int64(2000), f.token.Balance(bob).Int64())
	assert.Equal(t, int64(0), f.token.Balance(alice).Int64())
}

func TestEngine_ClaimEpoch_TransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	boom := errors.New("treasury paused")
	f.payout.setFailure(boom)

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.Error(t, err)
	assert.True(t, IsTransferError(err))
	require.ErrorIs(t, err, boom)

	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.False(t, claimed)

	// once the token recovers the same claim goes through
	f.payout.setFailure(nil)
	_, err = f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	assert.Equal(t, int64(1000), f.token.Balance(alice).Int64())
}

func TestEngine_ClaimEpoch_PendingPayoutKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	f.payout.setFailure(&token.PendingPayoutError{
		TxHash: common.HexToHash("0xabc"),
		Err:    context.DeadlineExceeded,
	})

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, ErrPayoutPending)
	assert.False(t, IsTransferError(err))

	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.True(t, claimed)

	// the transfer may still land, so a retry must not pay again
	f.payout.setFailure(nil)
	_, err = f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, 0, f.payout.transferCount())
}

func TestEngine_ClaimEpochs_PendingPayoutKeepsRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	enc := packedEncoder(t)
	d1 := buildDistribution(t, enc, 1, map[common.Address]int64{alice: 1000, bob: 1})
	d2 := buildDistribution(t, enc, 2, map[common.Address]int64{alice: 1234, bob: 1})
	f.seed(t, d1)
	f.seed(t, d2)

	f.payout.setFailure(&token.PendingPayoutError{Err: errors.New("receipt lookup failed")})

	_, err := f.engine.ClaimEpochs(ctx, alice, []types.ClaimEntry{d1.entry(alice), d2.entry(alice)})
	require.ErrorIs(t, err, ErrPayoutPending)

	for _, epoch := range []uint64{1, 2} {
		claimed, err := f.ledger.Claimed(ctx, epoch, alice)
		require.NoError(t, err)
		assert.True(t, claimed, "epoch %d", epoch)
	}
}

// ctxLedger hands the payout context to inspect before delegating.
type ctxLedger struct {
	token.ITokenLedger
	inspect func(ctx context.Context)
}

func (c *ctxLedger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	c.inspect(ctx)
	return c.ITokenLedger.TransferFrom(ctx, from, to, amount)
}

func TestEngine_ClaimEpoch_PayoutOutlivesRequest(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		payoutErr   error
		deadline    time.Time
		hasDeadline bool
	)
	f := newFixture(t, func(cfg *EngineConfig) {
		cfg.PayoutTimeout = time.Minute
		cfg.Token = &ctxLedger{ITokenLedger: cfg.Token, inspect: func(ctx context.Context) {
			// caller disconnects while the transfer is in flight
			cancel()
			payoutErr = ctx.Err()
			deadline, hasDeadline = ctx.Deadline()
		}}
	})
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	started := time.Now()
	_, err := f.engine.ClaimEpoch(reqCtx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)

	assert.NoError(t, payoutErr)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, started.Add(time.Minute), deadline, 5*time.Second)
	assert.Equal(t, int64(1000), f.token.Balance(alice).Int64())
}

func TestEngine_ClaimEpoch_InsufficientTreasury(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 5_000_000, bob: 1})
	f.seed(t, d)

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, memtoken.ErrInsufficientBalance)
	assert.True(t, IsTransferError(err))

	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestEngine_ClaimEpoch_RollbackNotObservable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	f.payout.mu.Lock()
	f.payout.failWith = errors.New("reverted")
	f.payout.entered = make(chan struct{})
	f.payout.release = make(chan struct{})
	f.payout.mu.Unlock()

	claimDone := make(chan error, 1)
	go func() {
		_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
		claimDone <- err
	}()

	// the claim is now inside TransferFrom with its flag set
	<-f.payout.entered

	readDone := make(chan bool, 1)
	go func() {
		claimed, err := f.ledger.Claimed(ctx, 1, alice)
		assert.NoError(t, err)
		readDone <- claimed
	}()

	select {
	case <-readDone:
		t.Fatal("reader must wait for the in-flight claim")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.payout.release)

	require.Error(t, <-claimDone)
	assert.False(t, <-readDone)
}

func TestEngine_ClaimEpoch_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	const workers = 32
	var wg sync.WaitGroup
	var successes, alreadyClaimed atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyClaimed):
				alreadyClaimed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), alreadyClaimed.Load())
	assert.Equal(t, int64(1000), f.token.Balance(alice).Int64())
}

func TestEngine_ClaimEpochs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	enc := packedEncoder(t)
	d1 := buildDistribution(t, enc, 1, map[common.Address]int64{alice: 1000, bob: 2000})
	d2 := buildDistribution(t, enc, 2, map[common.Address]int64{alice: 1234, carol: 10})
	f.seed(t, d1)
	f.seed(t, d2)

	receipt, err := f.engine.ClaimEpochs(ctx, alice, []types.ClaimEntry{d2.entry(alice), d1.entry(alice)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, receipt.Epochs)
	assert.Equal(t, int64(2234), receipt.Amount.Int64())

	// one aggregated transfer
	require.Equal(t, 1, f.payout.transferCount())
	assert.Equal(t, int64(2234), f.payout.transfers[0].Int64())
	assert.Equal(t, int64(2234), f.token.Balance(alice).Int64())

	for _, epoch := range []uint64{1, 2} {
		claimed, err := f.ledger.Claimed(ctx, epoch, alice)
		require.NoError(t, err)
		assert.True(t, claimed)
	}
}

func TestEngine_ClaimEpochs_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	enc := packedEncoder(t)
	d1 := buildDistribution(t, enc, 1, map[common.Address]int64{alice: 1000, bob: 2000})
	d2 := buildDistribution(t, enc, 2, map[common.Address]int64{alice: 1234, carol: 10})

	badAmount := d2.entry(alice)
	badAmount.Amount = big.NewInt(9999)

	unseeded := d1.entry(alice)
	unseeded.Epoch = 3

	tests := []struct {
		name    string
		setup   func(f *fixture)
		entries []types.ClaimEntry
		wantErr error
	}{
		{
			name:    "invalid proof in second entry",
			entries: []types.ClaimEntry{d1.entry(alice), badAmount},
			wantErr: ErrInvalidProof,
		},
		{
			name:    "unseeded epoch",
			entries: []types.ClaimEntry{d1.entry(alice), unseeded},
			wantErr: ErrUnknownEpoch,
		},
		{
			name:    "duplicate epoch in batch",
			entries: []types.ClaimEntry{d1.entry(alice), d1.entry(alice)},
			wantErr: ErrAlreadyClaimed,
		},
		{
			name: "one epoch already claimed",
			setup: func(f *fixture) {
				_, err := f.engine.ClaimEpoch(ctx, alice, 2, d2.amounts[alice], d2.proofs[alice])
				require.NoError(t, err)
			},
			entries: []types.ClaimEntry{d1.entry(alice), d2.entry(alice)},
			wantErr: ErrAlreadyClaimed,
		},
		{
			name:    "empty batch",
			entries: nil,
			wantErr: ErrEmptyBatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, d1)
			f.seed(t, d2)
			if tt.setup != nil {
				tt.setup(f)
			}
			transfersBefore := f.payout.transferCount()
			balanceBefore := f.token.Balance(alice)

			_, err := f.engine.ClaimEpochs(ctx, alice, tt.entries)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, transfersBefore, f.payout.transferCount())
			assert.Equal(t, 0, balanceBefore.Cmp(f.token.Balance(alice)))

			claimed, err := f.ledger.Claimed(ctx, 1, alice)
			require.NoError(t, err)
			assert.False(t, claimed, "epoch 1 must stay unclaimed")
		})
	}
}

func TestEngine_ClaimEpochs_TransferFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	enc := packedEncoder(t)
	d1 := buildDistribution(t, enc, 1, map[common.Address]int64{alice: 1000, bob: 2000})
	d2 := buildDistribution(t, enc, 2, map[common.Address]int64{alice: 1234, carol: 10})
	f.seed(t, d1)
	f.seed(t, d2)

	f.payout.setFailure(errors.New("out of gas"))

	_, err := f.engine.ClaimEpochs(ctx, alice, []types.ClaimEntry{d1.entry(alice), d2.entry(alice)})
	require.Error(t, err)
	assert.True(t, IsTransferError(err))

	for _, epoch := range []uint64{1, 2} {
		claimed, err := f.ledger.Claimed(ctx, epoch, alice)
		require.NoError(t, err)
		assert.False(t, claimed)
	}
}

func TestEngine_ClaimEpochs_Overflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// leaves carrying MaxUint256 each; the sum cannot be represented
	var entries []types.ClaimEntry
	for epoch := uint64(1); epoch <= 2; epoch++ {
		leaf, err := merkle.EncodeLeaf(alice, epoch, types.MaxUint256)
		require.NoError(t, err)
		other, err := merkle.EncodeLeaf(bob, epoch, big.NewInt(1))
		require.NoError(t, err)
		tree, err := merkle.NewTree([]common.Hash{leaf, other})
		require.NoError(t, err)
		proof, err := tree.ProofFor(0)
		require.NoError(t, err)

		_, err = f.ledger.SeedAllocations(ctx, owner, epoch, tree.Root(), nil)
		require.NoError(t, err)
		entries = append(entries, types.ClaimEntry{Epoch: epoch, Amount: types.MaxUint256, Proof: proof})
	}

	_, err := f.engine.ClaimEpochs(ctx, alice, entries)
	require.ErrorIs(t, err, ErrAmountOverflow)
	assert.True(t, IsTransferError(err))
	assert.Equal(t, 0, f.payout.transferCount())
}

func TestEngine_VerifyClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000, carol: 3000})
	f.seed(t, d)

	ok, err := f.engine.VerifyClaim(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.engine.VerifyClaim(ctx, alice, 1, big.NewInt(1), d.proofs[alice])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.VerifyClaim(ctx, alice, 7, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.VerifyClaim(ctx, alice, 1, big.NewInt(-5), d.proofs[alice])
	require.NoError(t, err)
	assert.False(t, ok)

	// verification is read-only
	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 0, f.payout.transferCount())

	// a proof stays valid after the claim; only the claim itself is refused
	_, err = f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	ok, err = f.engine.VerifyClaim(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_EpochBoundEncoding(t *testing.T) {
	ctx := context.Background()
	enc, err := merkle.NewLeafEncoder(merkle.EncodingEpochBound)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *EngineConfig) { cfg.Encoder = enc })
	assert.Equal(t, merkle.EncodingEpochBound, f.engine.Encoder().Encoding())

	bound := buildDistribution(t, enc, 1, map[common.Address]int64{alice: 1000, bob: 2000})
	packed := buildDistribution(t, packedEncoder(t), 2, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, bound)
	f.seed(t, packed)

	_, err = f.engine.ClaimEpoch(ctx, alice, 2, packed.amounts[alice], packed.proofs[alice])
	require.ErrorIs(t, err, ErrInvalidProof)

	_, err = f.engine.ClaimEpoch(ctx, alice, 1, bound.amounts[alice], bound.proofs[alice])
	require.NoError(t, err)
}

func TestEngine_CooldownGate(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	gate := NewCooldownGate(time.Hour)
	gate.Now = clock

	f := newFixture(t, func(cfg *EngineConfig) { cfg.Gate = gate })
	f.ledger.now = clock

	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, ErrClaimWindowClosed)

	claimed, err := f.ledger.Claimed(ctx, 1, alice)
	require.NoError(t, err)
	assert.False(t, claimed)

	now = now.Add(time.Hour)
	_, err = f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.NoError(t, err)
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newFixture(t)
	d := buildDistribution(t, packedEncoder(t), 1, map[common.Address]int64{alice: 1000, bob: 2000})
	f.seed(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.ClaimEpoch(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, context.Canceled)

	_, err = f.engine.ClaimEpochs(ctx, alice, []types.ClaimEntry{d.entry(alice)})
	require.ErrorIs(t, err, context.Canceled)

	_, err = f.engine.VerifyClaim(ctx, alice, 1, d.amounts[alice], d.proofs[alice])
	require.ErrorIs(t, err, context.Canceled)
}
