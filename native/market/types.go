package market

import (
	"errors"
	"math/big"
	"strings"

	"forwardnet/native/common"
)

var (
	ErrInvalidBounds    = errors.New("market params: lower bound must be below upper bound")
	ErrStrikeOutOfBand  = errors.New("market params: strike must lie within the payout band")
	ErrMaturityNotAhead = errors.New("market params: maturity must be in the future")
	ErrInvalidFeeBps    = errors.New("market params: fee rate exceeds 10000 bps")
	ErrAssetRequired    = errors.New("market params: underlying and quote assets required")
)

// Params carries the immutable economics of one market: the observed pair,
// maturity, strike, the payout band [Lower, Upper], and the three fee rates.
// Validated once at construction and never rechecked.
type Params struct {
	Underlying   string
	Quote        string
	Maturity     int64
	Strike       *big.Int
	Lower        *big.Int
	Upper        *big.Int
	MintFeeBps   uint32
	SettleFeeBps uint32
	RedeemFeeBps uint32
}

// Normalize canonicalises the asset identifiers.
func (p Params) Normalize() Params {
	p.Underlying = strings.ToUpper(strings.TrimSpace(p.Underlying))
	p.Quote = strings.ToUpper(strings.TrimSpace(p.Quote))
	return p
}

// Validate checks the construction invariants against the supplied clock.
func (p Params) Validate(now int64) error {
	if strings.TrimSpace(p.Underlying) == "" || strings.TrimSpace(p.Quote) == "" {
		return ErrAssetRequired
	}
	for _, bound := range []*big.Int{p.Strike, p.Lower, p.Upper} {
		if err := common.ValidateAmount(bound); err != nil {
			return err
		}
	}
	if p.Lower.Cmp(p.Upper) >= 0 {
		return ErrInvalidBounds
	}
	if p.Strike.Cmp(p.Lower) < 0 || p.Strike.Cmp(p.Upper) > 0 {
		return ErrStrikeOutOfBand
	}
	if p.Maturity <= now {
		return ErrMaturityNotAhead
	}
	for _, bps := range []uint32{p.MintFeeBps, p.SettleFeeBps, p.RedeemFeeBps} {
		if !common.ValidBps(bps) {
			return ErrInvalidFeeBps
		}
	}
	return nil
}

// Key returns the dedupe key derived from the economic parameters.
func (p Params) Key() string {
	return common.DedupeKey(p.Underlying, p.Quote, p.Maturity, p.Strike, p.Lower, p.Upper)
}

// ActionKind distinguishes the pending-action flavours.
type ActionKind uint8

const (
	// KindMint marks a deposit awaiting reconciliation into a claim pair.
	KindMint ActionKind = 1
	// KindRedeem marks an in-flight redemption settlement.
	KindRedeem ActionKind = 2
)

// PendingAction is the persisted in-flight record for a two-phase operation,
// keyed by its correlation tag. It is created when the operation is initiated
// and removed when the matching transfer reconciles; a transfer that never
// arrives leaves it orphaned.
type PendingAction struct {
	Account string
	Amount  *big.Int
	Kind    ActionKind
}

// State is the mutable book of one market. SettlementPrice and
// SettlementFactor are set together exactly once; LongSupply and ShortSupply
// stay equal because minting always issues the pair.
type State struct {
	Settled          bool
	SettlementPrice  *big.Int
	SettlementFactor *big.Int
	TotalCollateral  *big.Int
	LongSupply       *big.Int
	ShortSupply      *big.Int
	PausedMint       bool
	PausedSettle     bool
	ActionSeq        uint64
}

// Wiring is the view of the instance references a market was provisioned
// with.
type Wiring struct {
	Owner        string
	Guardian     string
	LongLedger   string
	ShortLedger  string
	Oracle       string
	FeeCollector string
}

// Config wires a new engine instance to its collaborators.
type Config struct {
	ID           string
	Params       Params
	Owner        string
	Guardian     string
	LongLedger   string
	ShortLedger  string
	Oracle       string
	FeeCollector string
}
