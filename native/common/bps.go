package common

import "math/big"

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

// ValidBps reports whether the fee rate lies in [0, 10000].
func ValidBps(bps uint32) bool {
	return bps <= BpsDenominator
}

// FeeOnAmount computes floor(amount * bps / 10000). A nil or non-positive
// amount yields zero. The result never exceeds the input, so it stays inside
// the 128-bit range whenever the input does.
func FeeOnAmount(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return fee.Div(fee, big.NewInt(BpsDenominator))
}
