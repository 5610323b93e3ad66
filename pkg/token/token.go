// Package token defines the fungible token collaborator the claim engine pays out through.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ITokenLedger is the subset of an ERC20 the redeem engine relies on.
//
// TransferFrom is executed by the ledger's own spender identity (the account the
// treasury approved), never by the recipient.
type ITokenLedger interface {
	// BalanceOf returns the token balance of account.
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)

	// Allowance returns how much spender may still move out of owner.
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)

	// TransferFrom moves amount from `from` to `to` using the spender's allowance.
	// An error matching ErrPayoutPending means the transfer may still land;
	// any other error means no tokens moved.
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error

	// Spender is the identity whose allowance TransferFrom consumes.
	Spender() common.Address
}

// ErrPayoutPending marks a transfer that was handed to the network without an
// observed outcome.
var ErrPayoutPending = errors.New("payout submitted but not confirmed")

// PendingPayoutError carries the hash of a transfer whose outcome is unknown.
type PendingPayoutError struct {
	TxHash common.Hash
	Err    error
}

func (e *PendingPayoutError) Error() string {
	return fmt.Sprintf("payout %s not confirmed: %v", e.TxHash.Hex(), e.Err)
}

func (e *PendingPayoutError) Unwrap() []error {
	return []error{ErrPayoutPending, e.Err}
}
