package market

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"forwardnet/native/common"
)

// Scale is the fixed-point denominator of the settlement factor: a factor of
// Scale assigns the full collateral pool to the long side.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

var errMathOverflow = errors.New("market math: intermediate overflows 256 bits")

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, common.ErrAmountInvalid
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errMathOverflow
	}
	return out, nil
}

// Factor computes the long side's collateral share for an observed price:
// zero at or below the lower bound, Scale at or above the upper bound, and
// the floor-interpolated fraction in between. Intermediates run on 256-bit
// integers so 128-bit magnitudes never wrap.
func Factor(price, lower, upper *big.Int) (*big.Int, error) {
	if lower == nil || upper == nil || lower.Cmp(upper) >= 0 {
		return nil, ErrInvalidBounds
	}
	if err := common.ValidateAmount(price); err != nil {
		return nil, err
	}
	if price.Cmp(lower) <= 0 {
		return big.NewInt(0), nil
	}
	if price.Cmp(upper) >= 0 {
		return new(big.Int).Set(Scale), nil
	}
	p, err := toUint256(price)
	if err != nil {
		return nil, err
	}
	lo, err := toUint256(lower)
	if err != nil {
		return nil, err
	}
	hi, err := toUint256(upper)
	if err != nil {
		return nil, err
	}
	scale, err := toUint256(Scale)
	if err != nil {
		return nil, err
	}
	num := new(uint256.Int).Sub(p, lo)
	num, overflow := new(uint256.Int).MulOverflow(num, scale)
	if overflow {
		return nil, errMathOverflow
	}
	den := new(uint256.Int).Sub(hi, lo)
	return new(uint256.Int).Div(num, den).ToBig(), nil
}

// LongPayout computes floor(amount * factor / Scale).
func LongPayout(amount, factor *big.Int) (*big.Int, error) {
	return scaleDown(amount, factor)
}

// ShortPayout computes floor(amount * (Scale - factor) / Scale).
func ShortPayout(amount, factor *big.Int) (*big.Int, error) {
	if factor == nil || factor.Sign() < 0 || factor.Cmp(Scale) > 0 {
		return nil, errors.New("market math: factor outside [0, Scale]")
	}
	return scaleDown(amount, new(big.Int).Sub(Scale, factor))
}

func scaleDown(amount, factor *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 || factor == nil || factor.Sign() == 0 {
		return big.NewInt(0), nil
	}
	a, err := toUint256(amount)
	if err != nil {
		return nil, err
	}
	f, err := toUint256(factor)
	if err != nil {
		return nil, err
	}
	scale, err := toUint256(Scale)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(a, f)
	if overflow {
		return nil, errMathOverflow
	}
	return new(uint256.Int).Div(product, scale).ToBig(), nil
}
