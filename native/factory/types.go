package factory

import (
	"math/big"

	"forwardnet/native/market"
)

// Code blob kinds the orchestrator must hold before it can provision a
// market.
const (
	CodeMarket = "market"
	CodeLong   = "long"
	CodeShort  = "short"
)

// Stages of the provisioning chain, in order. Each stage runs only after its
// predecessor settled; a failed stage strands the chain with no rollback.
const (
	StageCreateLong   = "create-long"
	StageCreateShort  = "create-short"
	StageCreateMarket = "create-market"
	StageRegister     = "register"
)

// Deployment statuses.
const (
	StatusInFlight = "in-flight"
	StatusComplete = "complete"
	StatusStalled  = "stalled"
)

func nextStage(stage string) string {
	switch stage {
	case StageCreateLong:
		return StageCreateShort
	case StageCreateShort:
		return StageCreateMarket
	case StageCreateMarket:
		return StageRegister
	default:
		return ""
	}
}

// MarketInfo is the registry entry written once per fully deployed market.
type MarketInfo struct {
	Key       string
	MarketID  string
	LongID    string
	ShortID   string
	Params    market.Params
	CreatedAt int64
	Creator   string
}

// DeploymentRecord is the persisted saga for one deploy attempt. Cursor names
// the last settled stage; a stalled record marks orphaned accounts that need
// manual reclamation.
type DeploymentRecord struct {
	ID        uint64
	Key       string
	Creator   string
	Params    market.Params
	MarketID  string
	LongID    string
	ShortID   string
	Cursor    string
	Status    string
	CreatedAt int64
	UpdatedAt int64
}

type storedParams struct {
	Underlying   string
	Quote        string
	Maturity     uint64
	Strike       *big.Int
	Lower        *big.Int
	Upper        *big.Int
	MintFeeBps   uint32
	SettleFeeBps uint32
	RedeemFeeBps uint32
}

func packParams(p market.Params) storedParams {
	return storedParams{
		Underlying:   p.Underlying,
		Quote:        p.Quote,
		Maturity:     uint64(p.Maturity),
		Strike:       cloneBig(p.Strike),
		Lower:        cloneBig(p.Lower),
		Upper:        cloneBig(p.Upper),
		MintFeeBps:   p.MintFeeBps,
		SettleFeeBps: p.SettleFeeBps,
		RedeemFeeBps: p.RedeemFeeBps,
	}
}

func unpackParams(p storedParams) market.Params {
	return market.Params{
		Underlying:   p.Underlying,
		Quote:        p.Quote,
		Maturity:     int64(p.Maturity),
		Strike:       cloneBig(p.Strike),
		Lower:        cloneBig(p.Lower),
		Upper:        cloneBig(p.Upper),
		MintFeeBps:   p.MintFeeBps,
		SettleFeeBps: p.SettleFeeBps,
		RedeemFeeBps: p.RedeemFeeBps,
	}
}

type storedInfo struct {
	Key       string
	MarketID  string
	LongID    string
	ShortID   string
	Params    storedParams
	CreatedAt uint64
	Creator   string
}

type storedRecord struct {
	ID        uint64
	Key       string
	Creator   string
	Params    storedParams
	MarketID  string
	LongID    string
	ShortID   string
	Cursor    string
	Status    string
	CreatedAt uint64
	UpdatedAt uint64
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
