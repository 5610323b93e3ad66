package transactionSigner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ITransactionSigner signs and submits the payout transactions of the ERC20 token adapter.
type ITransactionSigner interface {
	// GetTransactOpts returns options for building (not sending) a transaction
	GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error)

	// SignAndSendTransaction signs tx, sends it and waits for a successful receipt.
	// Once tx may have reached the network, failures are returned as *UnconfirmedError.
	SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address
}

// EthBackend is the chain access a signer needs. *ethclient.Client satisfies it.
type EthBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// ErrTransactionReverted is returned for a transaction mined with a failed status.
var ErrTransactionReverted = errors.New("transaction reverted")

// UnconfirmedError reports a transaction that may have been broadcast but whose
// receipt was never observed. It can still be mined.
type UnconfirmedError struct {
	TxHash common.Hash
	Err    error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s unconfirmed: %v", e.TxHash.Hex(), e.Err)
}

func (e *UnconfirmedError) Unwrap() error {
	return e.Err
}

type SignerConfig struct {
	PrivateKey string `json:"privateKey" yaml:"privateKey" mapstructure:"privateKey"`
}

func NewTransactionSigner(ctx context.Context, cfg *SignerConfig, backend EthBackend, logger *zap.Logger) (ITransactionSigner, error) {
	if cfg == nil || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	return NewPrivateKeySigner(ctx, cfg.PrivateKey, backend, logger)
}
