package memory

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

var (
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	spender  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	user     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

var _ token.ITokenLedger = (*SpenderLedger)(nil)

func TestToken_MintAndTransfer(t *testing.T) {
	tok := NewToken("TEST")
	require.NoError(t, tok.Mint(treasury, big.NewInt(1000)))
	assert.Equal(t, int64(1000), tok.TotalSupply().Int64())

	require.NoError(t, tok.Transfer(treasury, user, big.NewInt(400)))
	assert.Equal(t, int64(600), tok.Balance(treasury).Int64())
	assert.Equal(t, int64(400), tok.Balance(user).Int64())

	err := tok.Transfer(user, treasury, big.NewInt(401))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(400), tok.Balance(user).Int64())
}

func TestToken_InvalidInputs(t *testing.T) {
	tok := NewToken("TEST")

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{"mint nil", func() error { return tok.Mint(user, nil) }, ErrInvalidAmount},
		{"mint negative", func() error { return tok.Mint(user, big.NewInt(-1)) }, ErrInvalidAmount},
		{"mint zero address", func() error { return tok.Mint(common.Address{}, big.NewInt(1)) }, ErrZeroAddress},
		{"approve zero spender", func() error { return tok.Approve(user, common.Address{}, big.NewInt(1)) }, ErrZeroAddress},
		{"transfer to zero", func() error { return tok.Transfer(user, common.Address{}, big.NewInt(0)) }, ErrZeroAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.fn(), tt.wantErr)
		})
	}
}

func TestToken_MintOverflow(t *testing.T) {
	tok := NewToken("TEST")
	require.NoError(t, tok.Mint(treasury, types.MaxUint256))
	require.Error(t, tok.Mint(user, big.NewInt(1)))
	assert.Equal(t, 0, tok.Balance(user).Sign())
}

func TestSpenderLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	tok := NewToken("TEST")
	require.NoError(t, tok.Mint(treasury, big.NewInt(1000)))
	ledger := tok.ForSpender(spender)
	assert.Equal(t, spender, ledger.Spender())

	// no allowance yet
	err := ledger.TransferFrom(ctx, treasury, user, big.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(treasury, spender, big.NewInt(300)))
	require.NoError(t, ledger.TransferFrom(ctx, treasury, user, big.NewInt(100)))

	allowance, err := ledger.Allowance(ctx, treasury, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(200), allowance.Int64())

	balance, err := ledger.BalanceOf(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Int64())

	err = ledger.TransferFrom(ctx, treasury, user, big.NewInt(201))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestSpenderLedger_InfiniteAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewToken("TEST")
	require.NoError(t, tok.Mint(treasury, big.NewInt(1000)))
	require.NoError(t, tok.Approve(treasury, spender, types.MaxUint256))

	ledger := tok.ForSpender(spender)
	require.NoError(t, ledger.TransferFrom(ctx, treasury, user, big.NewInt(999)))

	allowance, err := ledger.Allowance(ctx, treasury, spender)
	require.NoError(t, err)
	assert.Equal(t, 0, allowance.Cmp(types.MaxUint256))

	// balance still bounds the transfer
	err = ledger.TransferFrom(ctx, treasury, user, big.NewInt(2))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// a failed transfer leaves the allowance and balances untouched
	assert.Equal(t, int64(1), tok.Balance(treasury).Int64())
	assert.Equal(t, int64(999), tok.Balance(user).Int64())
}

func TestSpenderLedger_CancelledContext(t *testing.T) {
	tok := NewToken("TEST")
	require.NoError(t, tok.Mint(treasury, big.NewInt(10)))
	require.NoError(t, tok.Approve(treasury, spender, big.NewInt(10)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tok.ForSpender(spender).TransferFrom(ctx, treasury, user, big.NewInt(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(10), tok.Balance(treasury).Int64())
}
