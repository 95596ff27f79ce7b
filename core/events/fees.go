package events

import (
	"math/big"

	"forwardnet/core/types"
)

const (
	// TypeFeeRecorded marks a fee accrued by the collector on behalf of a market.
	TypeFeeRecorded = "fees.recorded"
	// TypeFeesWithdrawn marks an owner withdrawal to the treasury.
	TypeFeesWithdrawn = "fees.withdrawn"
)

// FeeRecorded records a fee accrual for analytics pipelines.
type FeeRecorded struct {
	Asset  string
	Market string
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (FeeRecorded) EventType() string { return TypeFeeRecorded }

// Event converts the structured payload into a broadcastable event.
func (e FeeRecorded) Event() *types.Event {
	attrs := map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"market": e.Market,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeFeeRecorded, Attributes: attrs}
}

// FeesWithdrawn records an owner withdrawal routed to the treasury.
type FeesWithdrawn struct {
	Asset    string
	Amount   *big.Int
	Treasury string
}

// EventType satisfies the events.Event interface.
func (FeesWithdrawn) EventType() string { return TypeFeesWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e FeesWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"asset":    normalizeAsset(e.Asset),
		"treasury": e.Treasury,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeFeesWithdrawn, Attributes: attrs}
}
