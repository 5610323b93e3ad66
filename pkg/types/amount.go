package types

import (
	"fmt"
	"math/big"
)

// MaxUint256 is 2^256 - 1, the largest amount representable on-chain.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsUint256 reports whether v fits an unsigned 256-bit integer.
func IsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

// ParseAmount parses a base-10 (or 0x-prefixed hex) unsigned 256-bit integer.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if !IsUint256(v) {
		return nil, fmt.Errorf("amount %q is not an unsigned 256-bit integer", s)
	}
	return v, nil
}

// AddUint256 returns a+b, failing instead of wrapping when the sum exceeds 2^256 - 1.
func AddUint256(a, b *big.Int) (*big.Int, error) {
	if !IsUint256(a) || !IsUint256(b) {
		return nil, fmt.Errorf("operands must be unsigned 256-bit integers")
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(MaxUint256) > 0 {
		return nil, fmt.Errorf("sum overflows uint256")
	}
	return sum, nil
}
