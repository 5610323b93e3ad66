// Package erc20 pays claims out of an on-chain ERC20 treasury allowance.
package erc20

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/transactionSigner"
)

// ERC20ABI is the subset of the ERC20 interface the ledger calls.
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		panic(err)
	}
}

// Ledger is an ITokenLedger backed by a deployed ERC20 contract.
// The signer account must hold an allowance from the treasury.
type Ledger struct {
	address  common.Address
	contract *bind.BoundContract
	signer   transactionSigner.ITransactionSigner
	logger   *zap.Logger
}

// NewLedger binds the token at address.
func NewLedger(
	address common.Address,
	backend bind.ContractBackend,
	signer transactionSigner.ITransactionSigner,
	logger *zap.Logger,
) (*Ledger, error) {
	if address == (common.Address{}) {
		return nil, errors.New("token address cannot be the zero address")
	}
	if signer == nil {
		return nil, errors.New("transaction signer cannot be nil")
	}

	return &Ledger{
		address:  address,
		contract: bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		signer:   signer,
		logger:   logger,
	}, nil
}

func (l *Ledger) Address() common.Address {
	return l.address
}

func (l *Ledger) callUint256(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", method)
	}
	if len(out) != 1 {
		return nil, errors.Errorf("unexpected %s output length %d", method, len(out))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *Ledger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return l.callUint256(ctx, "balanceOf", account)
}

func (l *Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.callUint256(ctx, "allowance", owner, spender)
}

// Symbol returns the token symbol, used for logging at startup.
func (l *Ledger) Symbol(ctx context.Context) (string, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "symbol"); err != nil {
		return "", errors.Wrap(err, "failed to call symbol")
	}
	if len(out) != 1 {
		return "", errors.Errorf("unexpected symbol output length %d", len(out))
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// TransferFrom submits transferFrom and waits for a successful receipt. A
// transaction that was broadcast but never confirmed within ctx is reported as
// a *token.PendingPayoutError.
func (l *Ledger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	opts, err := l.signer.GetTransactOpts(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to build transaction options")
	}

	tx, err := l.contract.Transact(opts, "transferFrom", from, to, amount)
	if err != nil {
		return errors.Wrap(err, "failed to create transferFrom transaction")
	}

	l.logger.Sugar().Infow("Submitting token payout",
		"token", l.address.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"amount", amount.String(),
	)

	receipt, err := l.signer.SignAndSendTransaction(ctx, tx)
	if err != nil {
		var unconfirmed *transactionSigner.UnconfirmedError
		if errors.As(err, &unconfirmed) {
			l.logger.Sugar().Errorw("Token payout outcome unknown",
				"txHash", unconfirmed.TxHash.Hex(),
				"to", to.Hex(),
				"error", err,
			)
			return &token.PendingPayoutError{TxHash: unconfirmed.TxHash, Err: err}
		}
		return errors.Wrap(err, "transferFrom transaction failed")
	}

	l.logger.Sugar().Infow("Token payout confirmed",
		"txHash", receipt.TxHash.Hex(),
		"blockNumber", receipt.BlockNumber.Uint64(),
	)
	return nil
}

func (l *Ledger) Spender() common.Address {
	return l.signer.GetFromAddress()
}
