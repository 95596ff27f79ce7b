package common

import (
	"math/big"
	"strconv"
	"strings"
)

// DedupeKey derives the canonical identity of a market from its economic
// parameters: underlying, quote, maturity, strike, and the payout band. Fee
// rates are deliberately excluded, so two markets differing only in fee
// schedule share one identity and the second deployment is rejected as a
// duplicate.
func DedupeKey(underlying, quote string, maturity int64, strike, lower, upper *big.Int) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(underlying)),
		strings.ToUpper(strings.TrimSpace(quote)),
		strconv.FormatInt(maturity, 10),
		bigString(strike),
		bigString(lower),
		bigString(upper),
	}
	return strings.Join(parts, ":")
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
