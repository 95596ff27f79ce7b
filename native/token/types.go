package token

import (
	"math/big"
	"strings"
)

// Metadata describes a ledger instance. Authority names the only account
// allowed to mint and burn; for claim ledgers that is the owning market, for
// assets seeded at genesis it is the network owner.
type Metadata struct {
	Symbol    string
	Name      string
	Decimals  uint8
	Authority string
}

// Normalize canonicalises the symbol and trims identifier whitespace.
func (m Metadata) Normalize() Metadata {
	m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
	m.Name = strings.TrimSpace(m.Name)
	m.Authority = strings.TrimSpace(m.Authority)
	return m
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
