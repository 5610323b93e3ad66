package redeem

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	memtoken "github.com/Layr-Labs/merkle-redeem-go/pkg/token/memory"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

var (
	owner    = common.HexToAddress("0x000000000000000000000000000000000000000a")
	treasury = common.HexToAddress("0x000000000000000000000000000000000000000b")
	spender  = common.HexToAddress("0x000000000000000000000000000000000000000c")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca401")
)

// recordingLedger counts transfers and can fail or block them on demand.
type recordingLedger struct {
	token.ITokenLedger

	mu        sync.Mutex
	transfers []*big.Int
	failWith  error
	entered   chan struct{}
	release   chan struct{}
}

func (r *recordingLedger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	r.mu.Lock()
	failWith, entered, release := r.failWith, r.entered, r.release
	r.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if failWith != nil {
		return failWith
	}
	if err := r.ITokenLedger.TransferFrom(ctx, from, to, amount); err != nil {
		return err
	}

	r.mu.Lock()
	r.transfers = append(r.transfers, new(big.Int).Set(amount))
	r.mu.Unlock()
	return nil
}

func (r *recordingLedger) setFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

func (r *recordingLedger) transferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

type fixture struct {
	ledger *Ledger
	engine *Engine
	token  *memtoken.Token
	payout *recordingLedger
}

type fixtureOption func(cfg *EngineConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	ledger, err := NewLedger(memory.NewMemoryPersistence(), owner, zap.NewNop())
	require.NoError(t, err)

	tok := memtoken.NewToken("RDM")
	require.NoError(t, tok.Mint(treasury, big.NewInt(1_000_000)))
	require.NoError(t, tok.Approve(treasury, spender, types.MaxUint256))

	payout := &recordingLedger{ITokenLedger: tok.ForSpender(spender)}

	cfg := &EngineConfig{
		Ledger:   ledger,
		Token:    payout,
		Treasury: treasury,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	engine, err := NewEngine(cfg, zap.NewNop())
	require.NoError(t, err)

	return &fixture{ledger: ledger, engine: engine, token: tok, payout: payout}
}

// distribution is one epoch's allocations with their proofs.
type distribution struct {
	epoch   uint64
	root    common.Hash
	total   *big.Int
	amounts map[common.Address]*big.Int
	proofs  map[common.Address][]common.Hash
}

func buildDistribution(t *testing.T, encoder merkle.LeafEncoder, epoch uint64, amounts map[common.Address]int64) *distribution {
	t.Helper()

	d := &distribution{
		epoch:   epoch,
		total:   new(big.Int),
		amounts: make(map[common.Address]*big.Int),
		proofs:  make(map[common.Address][]common.Hash),
	}

	recipients := make([]common.Address, 0, len(amounts))
	leaves := make([]common.Hash, 0, len(amounts))
	for addr, amt := range amounts {
		amount := big.NewInt(amt)
		leaf, err := encoder.EncodeLeaf(addr, epoch, amount)
		require.NoError(t, err)
		recipients = append(recipients, addr)
		leaves = append(leaves, leaf)
		d.amounts[addr] = amount
		d.total.Add(d.total, amount)
	}

	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)
	d.root = tree.Root()

	for i, addr := range recipients {
		proof, err := tree.ProofFor(i)
		require.NoError(t, err)
		d.proofs[addr] = proof
	}
	return d
}

func (f *fixture) seed(t *testing.T, d *distribution) {
	t.Helper()
	_, err := f.ledger.SeedAllocations(context.Background(), owner, d.epoch, d.root, d.total)
	require.NoError(t, err)
}

func (d *distribution) entry(addr common.Address) types.ClaimEntry {
	return types.ClaimEntry{Epoch: d.epoch, Amount: d.amounts[addr], Proof: d.proofs[addr]}
}

func packedEncoder(t *testing.T) merkle.LeafEncoder {
	enc, err := merkle.NewLeafEncoder(merkle.EncodingPacked)
	require.NoError(t, err)
	return enc
}
