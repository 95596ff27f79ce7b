package common

import (
	"errors"
	"math/big"
)

var (
	ErrAmountRequired = errors.New("amount required")
	ErrAmountInvalid  = errors.New("amount must be positive")
	ErrAmountOverflow = errors.New("amount exceeds 128-bit range")
)

// MaxAmountBits bounds every balance and collateral magnitude in the system.
// Arithmetic whose result would not fit back into this range must fail rather
// than wrap.
const MaxAmountBits = 128

// FitsAmount reports whether x lies in [0, 2^128).
func FitsAmount(x *big.Int) bool {
	if x == nil || x.Sign() < 0 {
		return false
	}
	return x.BitLen() <= MaxAmountBits
}

// ValidateAmount rejects nil, non-positive, and out-of-range magnitudes. Use it
// on every externally supplied amount before it reaches engine state.
func ValidateAmount(x *big.Int) error {
	if x == nil {
		return ErrAmountRequired
	}
	if x.Sign() <= 0 {
		return ErrAmountInvalid
	}
	if x.BitLen() > MaxAmountBits {
		return ErrAmountOverflow
	}
	return nil
}
