package redeem

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

const (
	claimKindSingle = "single"
	claimKindBatch  = "batch"
)

// DefaultPayoutTimeout bounds one token transfer, including waiting for its receipt.
const DefaultPayoutTimeout = 2 * time.Minute

// EngineConfig wires the claim engine to its collaborators.
type EngineConfig struct {
	Ledger *Ledger
	Token  token.ITokenLedger
	// Treasury is the account payouts are drawn from via the spender allowance
	Treasury common.Address
	// Encoder defaults to the packed layout
	Encoder merkle.LeafEncoder
	// Gate defaults to OpenGate
	Gate    ClaimGate
	Metrics metrics.Metrics
	// PayoutTimeout defaults to DefaultPayoutTimeout
	PayoutTimeout time.Duration
}

// Engine validates claims against the ledger and pays them out.
type Engine struct {
	ledger   *Ledger
	token    token.ITokenLedger
	treasury common.Address
	encoder  merkle.LeafEncoder
	gate     ClaimGate
	metrics  metrics.Metrics
	logger   *zap.Logger

	payoutTimeout time.Duration
}

func NewEngine(cfg *EngineConfig, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine config cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Token == nil {
		return nil, fmt.Errorf("token ledger cannot be nil")
	}
	if cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("treasury cannot be the zero address")
	}

	if cfg.PayoutTimeout < 0 {
		return nil, fmt.Errorf("payout timeout cannot be negative")
	}

	e := &Engine{
		ledger:        cfg.Ledger,
		token:         cfg.Token,
		treasury:      cfg.Treasury,
		encoder:       cfg.Encoder,
		gate:          cfg.Gate,
		metrics:       cfg.Metrics,
		logger:        logger,
		payoutTimeout: cfg.PayoutTimeout,
	}
	if e.payoutTimeout == 0 {
		e.payoutTimeout = DefaultPayoutTimeout
	}
	if e.encoder == nil {
		enc, err := merkle.NewLeafEncoder(merkle.EncodingPacked)
		if err != nil {
			return nil, err
		}
		e.encoder = enc
	}
	if e.gate == nil {
		e.gate = OpenGate{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNopMetrics()
	}
	return e, nil
}

func (e *Engine) Encoder() merkle.LeafEncoder {
	return e.encoder
}

// checkEntry runs root lookup, gate, proof and claim-flag checks. Caller holds the ledger lock.
func (e *Engine) checkEntry(recipient common.Address, entry types.ClaimEntry) error {
	allocation, err := e.ledger.loadAllocation(entry.Epoch)
	if err != nil {
		return err
	}
	if err := e.gate.Allow(allocation); err != nil {
		return err
	}

	leaf, err := e.encoder.EncodeLeaf(recipient, entry.Epoch, entry.Amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !merkle.VerifyProof(allocation.Root, leaf, entry.Proof) {
		return fmt.Errorf("%w: epoch %d", ErrInvalidProof, entry.Epoch)
	}

	claimed, err := e.ledger.store.IsClaimed(entry.Epoch, recipient)
	if err != nil {
		return fmt.Errorf("failed to read claim record: %w", err)
	}
	if claimed {
		return fmt.Errorf("%w: epoch %d", ErrAlreadyClaimed, entry.Epoch)
	}
	return nil
}

// settle flags keys and pays amount. The flags are cleared again only when the
// payout definitely did not happen; a pending payout keeps them set. Caller
// holds the ledger write lock.
func (e *Engine) settle(ctx context.Context, recipient common.Address, keys []types.ClaimKey, amount *big.Int) error {
	if err := e.ledger.store.MarkClaimed(keys); err != nil {
		if errors.Is(err, persistence.ErrClaimExists) {
			return fmt.Errorf("%w: %v", ErrAlreadyClaimed, err)
		}
		return fmt.Errorf("failed to record claim: %w", err)
	}

	// the payout outlives the request context
	payCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.payoutTimeout)
	defer cancel()

	err := e.token.TransferFrom(payCtx, e.treasury, recipient, amount)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrPayoutPending) {
		e.logger.Sugar().Errorw("Payout not confirmed, keeping claim records",
			"recipient", recipient.Hex(),
			"keys", len(keys),
			"amount", amount.String(),
			"error", err,
		)
		return fmt.Errorf("claim recorded: %w", err)
	}

	if rbErr := e.ledger.store.UnmarkClaimed(keys); rbErr != nil {
		e.logger.Sugar().Errorw("Failed to roll back claim records after transfer failure",
			"recipient", recipient.Hex(),
			"keys", len(keys),
			"transferError", err,
			"error", rbErr,
		)
		return &TransferError{Err: errors.Join(err, rbErr)}
	}
	return &TransferError{Err: err}
}

func claimResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrUnknownEpoch):
		return metrics.ResultUnknownEpoch
	case errors.Is(err, ErrInvalidProof):
		return metrics.ResultInvalidProof
	case errors.Is(err, ErrAlreadyClaimed):
		return metrics.ResultAlreadyClaimed
	case errors.Is(err, ErrClaimWindowClosed):
		return metrics.ResultWindowClosed
	case errors.Is(err, ErrPayoutPending):
		return metrics.ResultPayoutPending
	case IsTransferError(err):
		return metrics.ResultTransferFailed
	case errors.Is(err, ErrEmptyBatch):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

func (e *Engine) record(kind string, started time.Time, amount *big.Int, entries int, err error) {
	e.metrics.IncClaims(kind, claimResult(err))
	e.metrics.ObserveClaimDuration(kind, time.Since(started))
	if err == nil {
		e.metrics.AddClaimedAmount(amount)
		if kind == claimKindBatch {
			e.metrics.ObserveBatchSize(entries)
		}
	}
}

// ClaimEpoch redeems recipient's allocation for one epoch. The payout always
// goes to recipient regardless of who submitted the request.
func (e *Engine) ClaimEpoch(ctx context.Context, recipient common.Address, epoch uint64, amount *big.Int, proof []common.Hash) (receipt *types.ClaimReceipt, err error) {
	started := time.Now()
	defer func() {
		e.record(claimKindSingle, started, amount, 1, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.ledger.mu.Lock()
	defer e.ledger.mu.Unlock()

	entry := types.ClaimEntry{Epoch: epoch, Amount: amount, Proof: proof}
	if err := e.checkEntry(recipient, entry); err != nil {
		return nil, err
	}

	keys := []types.ClaimKey{{Epoch: epoch, Recipient: recipient}}
	if err := e.settle(ctx, recipient, keys, amount); err != nil {
		e.logger.Sugar().Warnw("Claim failed",
			"recipient", recipient.Hex(),
			"epoch", epoch,
			"error", err,
		)
		return nil, err
	}

	e.logger.Sugar().Infow("Claimed epoch",
		"recipient", recipient.Hex(),
		"epoch", epoch,
		"amount", amount.String(),
	)

	return &types.ClaimReceipt{
		Recipient: recipient,
		Epochs:    []uint64{epoch},
		Amount:    new(big.Int).Set(amount),
	}, nil
}

// ClaimEpochs redeems several epochs with a single aggregated transfer.
// Either every entry is recorded and paid or nothing changes.
func (e *Engine) ClaimEpochs(ctx context.Context, recipient common.Address, entries []types.ClaimEntry) (receipt *types.ClaimReceipt, err error) {
	started := time.Now()
	var total *big.Int
	defer func() {
		e.record(claimKindBatch, started, total, len(entries), err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}

	e.ledger.mu.Lock()
	defer e.ledger.mu.Unlock()

	seen := make(map[uint64]struct{}, len(entries))
	keys := make([]types.ClaimKey, 0, len(entries))
	sum := new(big.Int)

	for _, entry := range entries {
		if _, dup := seen[entry.Epoch]; dup {
			return nil, fmt.Errorf("%w: epoch %d appears twice in batch", ErrAlreadyClaimed, entry.Epoch)
		}
		seen[entry.Epoch] = struct{}{}

		if err := e.checkEntry(recipient, entry); err != nil {
			return nil, err
		}

		next, err := types.AddUint256(sum, entry.Amount)
		if err != nil {
			return nil, &TransferError{Err: fmt.Errorf("%w: %v", ErrAmountOverflow, err)}
		}
		sum = next
		keys = append(keys, types.ClaimKey{Epoch: entry.Epoch, Recipient: recipient})
	}

	if err := e.settle(ctx, recipient, keys, sum); err != nil {
		e.logger.Sugar().Warnw("Batch claim failed",
			"recipient", recipient.Hex(),
			"entries", len(entries),
			"error", err,
		)
		return nil, err
	}
	total = sum

	epochs := make([]uint64, 0, len(keys))
	for _, k := range keys {
		epochs = append(epochs, k.Epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	e.logger.Sugar().Infow("Claimed epochs",
		"recipient", recipient.Hex(),
		"epochs", epochs,
		"amount", sum.String(),
	)

	return &types.ClaimReceipt{
		Recipient: recipient,
		Epochs:    epochs,
		Amount:    new(big.Int).Set(sum),
	}, nil
}

// VerifyClaim checks a proof against the stored root without touching any state.
// An unseeded epoch has the zero root, so nothing verifies against it.
func (e *Engine) VerifyClaim(ctx context.Context, recipient common.Address, epoch uint64, amount *big.Int, proof []common.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e.ledger.mu.RLock()
	allocation, err := e.ledger.store.LoadEpochAllocation(epoch)
	e.ledger.mu.RUnlock()
	if err != nil {
		return false, fmt.Errorf("failed to load allocation: %w", err)
	}
	if allocation == nil {
		return false, nil
	}

	leaf, err := e.encoder.EncodeLeaf(recipient, epoch, amount)
	if err != nil {
		return false, nil
	}
	return merkle.VerifyProof(allocation.Root, leaf, proof), nil
}
