package redeem

import (
	"errors"
	"fmt"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
)

var (
	ErrDuplicateEpoch    = errors.New("epoch already seeded")
	ErrUnknownEpoch      = errors.New("epoch not seeded")
	ErrInvalidProof      = errors.New("incorrect merkle proof")
	ErrAlreadyClaimed    = errors.New("epoch already claimed by recipient")
	ErrUnauthorized      = errors.New("caller is not the owner")
	ErrInvalidOwner      = errors.New("new owner is the zero address")
	ErrInvalidRange      = errors.New("invalid epoch range")
	ErrEmptyBatch        = errors.New("batch claim has no entries")
	ErrAmountOverflow    = errors.New("aggregated amount overflows uint256")
	ErrClaimWindowClosed = errors.New("claim window not open for epoch")

	// ErrPayoutPending is returned when the claim is recorded but its transfer
	// was not confirmed. The claim cannot be retried.
	ErrPayoutPending = token.ErrPayoutPending
)

// TransferError reports that the token ledger refused the payout. No claim
// record is left set when it is returned.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("token transfer failed: %v", e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsTransferError reports whether err is (or wraps) a TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
