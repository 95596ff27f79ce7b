package events

import (
	"math/big"
	"strconv"
	"strings"

	"forwardnet/core/types"
)

const (
	// TypePositionPending marks a mint initiation awaiting its collateral transfer.
	TypePositionPending = "market.position_pending"
	// TypePositionMinted marks a reconciled deposit that issued a claim pair.
	TypePositionMinted = "market.position_minted"
	// TypeDepositRefunded marks an incoming transfer that was returned unconsumed.
	TypeDepositRefunded = "market.deposit_refunded"
	// TypeSettleRequested marks a settlement price lookup in flight.
	TypeSettleRequested = "market.settle_requested"
	// TypeMarketSettled marks the one-time settlement finalization.
	TypeMarketSettled = "market.settled"
	// TypeRedeemed marks a claim-pair redemption against settled collateral.
	TypeRedeemed = "market.redeemed"
	// TypeMarketPaused marks an owner/guardian pause toggle.
	TypeMarketPaused = "market.pause_updated"
)

// PositionPending records a mint initiation before its transfer reconciles.
type PositionPending struct {
	Market  string
	Account string
	Amount  *big.Int
	Tag     string
}

// EventType satisfies the events.Event interface.
func (PositionPending) EventType() string { return TypePositionPending }

// Event converts the structured payload into a broadcastable event.
func (e PositionPending) Event() *types.Event {
	attrs := map[string]string{
		"market":  e.Market,
		"account": e.Account,
		"tag":     e.Tag,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypePositionPending, Attributes: attrs}
}

// PositionMinted records a reconciled collateral deposit and the claim pair it issued.
type PositionMinted struct {
	Market  string
	Account string
	Gross   *big.Int
	Fee     *big.Int
	Net     *big.Int
	Tag     string
}

// EventType satisfies the events.Event interface.
func (PositionMinted) EventType() string { return TypePositionMinted }

// Event converts the structured payload into a broadcastable event.
func (e PositionMinted) Event() *types.Event {
	attrs := map[string]string{
		"market":  e.Market,
		"account": e.Account,
		"tag":     e.Tag,
	}
	if e.Gross != nil {
		attrs["gross"] = e.Gross.String()
	}
	if e.Fee != nil {
		attrs["fee"] = e.Fee.String()
	}
	if e.Net != nil {
		attrs["net"] = e.Net.String()
	}
	return &types.Event{Type: TypePositionMinted, Attributes: attrs}
}

// DepositRefunded records a transfer returned to its sender unconsumed.
type DepositRefunded struct {
	Market  string
	Account string
	Amount  *big.Int
	Tag     string
	Reason  string
}

// EventType satisfies the events.Event interface.
func (DepositRefunded) EventType() string { return TypeDepositRefunded }

// Event converts the structured payload into a broadcastable event.
func (e DepositRefunded) Event() *types.Event {
	attrs := map[string]string{
		"market":  e.Market,
		"account": e.Account,
		"tag":     e.Tag,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeDepositRefunded, Attributes: attrs}
}

// SettleRequested records an in-flight oracle lookup for settlement.
type SettleRequested struct {
	Market     string
	Underlying string
	Quote      string
}

// EventType satisfies the events.Event interface.
func (SettleRequested) EventType() string { return TypeSettleRequested }

// Event converts the structured payload into a broadcastable event.
func (e SettleRequested) Event() *types.Event {
	attrs := map[string]string{
		"market":     e.Market,
		"underlying": normalizeAsset(e.Underlying),
		"quote":      normalizeAsset(e.Quote),
	}
	return &types.Event{Type: TypeSettleRequested, Attributes: attrs}
}

// MarketSettled records the one-time settlement finalization.
type MarketSettled struct {
	Market string
	Price  *big.Int
	Factor *big.Int
	Fee    *big.Int
}

// EventType satisfies the events.Event interface.
func (MarketSettled) EventType() string { return TypeMarketSettled }

// Event converts the structured payload into a broadcastable event.
func (e MarketSettled) Event() *types.Event {
	attrs := map[string]string{"market": e.Market}
	if e.Price != nil {
		attrs["price"] = e.Price.String()
	}
	if e.Factor != nil {
		attrs["factor"] = e.Factor.String()
	}
	if e.Fee != nil {
		attrs["fee"] = e.Fee.String()
	}
	return &types.Event{Type: TypeMarketSettled, Attributes: attrs}
}

// Redeemed records a claim-pair redemption and its payout accounting.
type Redeemed struct {
	Market      string
	Account     string
	LongAmount  *big.Int
	ShortAmount *big.Int
	Payout      *big.Int
	Fee         *big.Int
	Net         *big.Int
}

// EventType satisfies the events.Event interface.
func (Redeemed) EventType() string { return TypeRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e Redeemed) Event() *types.Event {
	attrs := map[string]string{
		"market":  e.Market,
		"account": e.Account,
	}
	if e.LongAmount != nil {
		attrs["longAmount"] = e.LongAmount.String()
	}
	if e.ShortAmount != nil {
		attrs["shortAmount"] = e.ShortAmount.String()
	}
	if e.Payout != nil {
		attrs["payout"] = e.Payout.String()
	}
	if e.Fee != nil {
		attrs["fee"] = e.Fee.String()
	}
	if e.Net != nil {
		attrs["net"] = e.Net.String()
	}
	return &types.Event{Type: TypeRedeemed, Attributes: attrs}
}

// MarketPaused records an owner or guardian pause toggle.
type MarketPaused struct {
	Market string
	Caller string
	Mint   bool
	Settle bool
}

// EventType satisfies the events.Event interface.
func (MarketPaused) EventType() string { return TypeMarketPaused }

// Event converts the structured payload into a broadcastable event.
func (e MarketPaused) Event() *types.Event {
	attrs := map[string]string{
		"market":       e.Market,
		"caller":       e.Caller,
		"pausedMint":   strconv.FormatBool(e.Mint),
		"pausedSettle": strconv.FormatBool(e.Settle),
	}
	return &types.Event{Type: TypeMarketPaused, Attributes: attrs}
}
