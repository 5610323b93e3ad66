package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// PrivateKeySigner signs with a local secp256k1 key.
type PrivateKeySigner struct {
	backend     EthBackend
	logger      *zap.Logger
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// NewPrivateKeySigner parses the key and reads the chain id from backend.
func NewPrivateKeySigner(ctx context.Context, hexKey string, backend EthBackend, logger *zap.Logger) (*PrivateKeySigner, error) {
	privateKey, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("eth backend cannot be nil")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &PrivateKeySigner{
		backend:     backend,
		logger:      logger,
		chainID:     chainID,
		privateKey:  privateKey,
		fromAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// GetTransactOpts returns keyed options with NoSend set; SignAndSendTransaction submits.
func (s *PrivateKeySigner) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.NoSend = true
	return opts, nil
}

// SignAndSendTransaction signs a transaction and sends it to the network
func (s *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	s.logger.Info("SignAndSendTransaction: sending transaction",
		zap.String("from", s.fromAddress.Hex()),
		zap.Stringer("to", signedTx.To()),
		zap.Uint64("nonce", signedTx.Nonce()),
		zap.Uint64("gasLimit", signedTx.Gas()),
	)

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		err = fmt.Errorf("failed to send transaction: %w", err)
		if mayHaveBroadcast(err) {
			return nil, &UnconfirmedError{TxHash: signedTx.Hash(), Err: err}
		}
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, s.backend, signedTx)
	if err != nil {
		s.logger.Warn("SignAndSendTransaction: no receipt for sent transaction",
			zap.String("txHash", signedTx.Hash().Hex()),
			zap.Error(err),
		)
		return nil, &UnconfirmedError{
			TxHash: signedTx.Hash(),
			Err:    fmt.Errorf("failed to wait for transaction receipt: %w", err),
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		s.logger.Error("SignAndSendTransaction: transaction failed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Uint64("status", receipt.Status),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return nil, fmt.Errorf("%w: %s status %d", ErrTransactionReverted, receipt.TxHash.Hex(), receipt.Status)
	}

	s.logger.Info("SignAndSendTransaction: transaction succeeded",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed),
		zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()),
	)

	return receipt, nil
}

// mayHaveBroadcast reports whether a send error leaves the node's view unknown.
// Rejections from the node itself (nonce, funds, gas) are definite.
func mayHaveBroadcast(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *PrivateKeySigner) GetFromAddress() common.Address {
	return s.fromAddress
}
