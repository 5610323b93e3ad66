// Package memory is an in-process ERC20-style ledger for tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrZeroAddress           = errors.New("zero address")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token holds balances and allowances in memory.
// An allowance of MaxUint256 is treated as infinite and never decremented.
type Token struct {
	mu          sync.RWMutex
	symbol      string
	balances    map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
	totalSupply *big.Int
}

// NewToken creates an empty token.
func NewToken(symbol string) *Token {
	return &Token{
		symbol:      symbol,
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		totalSupply: new(big.Int),
	}
}

func (t *Token) Symbol() string {
	return t.symbol
}

func validAmount(amount *big.Int) error {
	if amount == nil || !types.IsUint256(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}

func (t *Token) balance(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

// Mint credits amount to account.
func (t *Token) Mint(account common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return fmt.Errorf("mint to the %w", ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := types.AddUint256(t.totalSupply, amount)
	if err != nil {
		return err
	}
	t.totalSupply = supply
	t.balances[account] = new(big.Int).Add(t.balance(account), amount)
	return nil
}

// TotalSupply returns the sum of all minted tokens.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// Balance is the context-free form of BalanceOf.
func (t *Token) Balance(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(account))
}

// Approve sets spender's allowance over owner's tokens.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("approve to the %w", ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.allowances[allowanceKey{owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves tokens from the caller's own balance.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.move(from, to, amount)
}

// move must be called with mu held.
func (t *Token) move(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to the %w", ErrZeroAddress)
	}
	fromBalance := t.balance(from)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, fromBalance, amount)
	}
	t.balances[from] = new(big.Int).Sub(fromBalance, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return a
	}
	return new(big.Int)
}

// TransferFromAs moves tokens out of `from` consuming spender's allowance.
func (t *Token) TransferFromAs(spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.allowance(from, spender)
	infinite := current.Cmp(types.MaxUint256) == 0
	if !infinite && current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientAllowance, current, amount)
	}

	if err := t.move(from, to, amount); err != nil {
		return err
	}

	if !infinite {
		t.allowances[allowanceKey{owner: from, spender: spender}] = new(big.Int).Sub(current, amount)
	}
	return nil
}

// ForSpender returns an ITokenLedger view whose TransferFrom acts as spender.
func (t *Token) ForSpender(spender common.Address) *SpenderLedger {
	return &SpenderLedger{token: t, spender: spender}
}

// SpenderLedger binds a Token to one spender identity.
type SpenderLedger struct {
	token   *Token
	spender common.Address
}

func (s *SpenderLedger) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	return s.token.Balance(account), nil
}

func (s *SpenderLedger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	s.token.mu.RLock()
	defer s.token.mu.RUnlock()
	return new(big.Int).Set(s.token.allowance(owner, spender)), nil
}

func (s *SpenderLedger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.token.TransferFromAs(s.spender, from, to, amount)
}

func (s *SpenderLedger) Spender() common.Address {
	return s.spender
}
