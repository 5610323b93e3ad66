// Package metrics exposes counters for the allocation ledger and claim engine.
package metrics

import (
	"math/big"
	"time"
)

// Claim results used as the "result" label.
const (
	ResultSuccess        = "success"
	ResultUnknownEpoch   = "unknown_epoch"
	ResultInvalidProof   = "invalid_proof"
	ResultAlreadyClaimed = "already_claimed"
	ResultWindowClosed   = "window_closed"
	ResultTransferFailed = "transfer_failed"
	ResultPayoutPending  = "payout_pending"
	ResultInvalid        = "invalid"
	ResultError          = "error"
)

// Metrics is implemented by PrometheusMetrics and NopMetrics.
type Metrics interface {
	IncAllocationsSeeded()
	SetLatestEpoch(epoch uint64)
	IncOwnershipTransfers()

	IncClaims(kind, result string)
	AddClaimedAmount(amount *big.Int)
	ObserveBatchSize(entries int)
	ObserveClaimDuration(kind string, d time.Duration)
}
