package events

import (
	"math/big"

	"forwardnet/core/types"
)

const (
	// TypeTokenMinted marks supply issued by a ledger's mint authority.
	TypeTokenMinted = "token.minted"
	// TypeTokenBurned marks supply destroyed by a ledger's mint authority.
	TypeTokenBurned = "token.burned"
	// TypeTokenTransferred marks a balance move between accounts.
	TypeTokenTransferred = "token.transferred"
)

// TokenMinted records issued supply.
type TokenMinted struct {
	Asset   string
	Account string
	Amount  *big.Int
}

// EventType satisfies the events.Event interface.
func (TokenMinted) EventType() string { return TypeTokenMinted }

// Event converts the structured payload into a broadcastable event.
func (e TokenMinted) Event() *types.Event {
	attrs := map[string]string{
		"asset":   e.Asset,
		"account": e.Account,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTokenMinted, Attributes: attrs}
}

// TokenBurned records destroyed supply.
type TokenBurned struct {
	Asset   string
	Account string
	Amount  *big.Int
}

// EventType satisfies the events.Event interface.
func (TokenBurned) EventType() string { return TypeTokenBurned }

// Event converts the structured payload into a broadcastable event.
func (e TokenBurned) Event() *types.Event {
	attrs := map[string]string{
		"asset":   e.Asset,
		"account": e.Account,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTokenBurned, Attributes: attrs}
}

// TokenTransferred records a balance move.
type TokenTransferred struct {
	Asset  string
	From   string
	To     string
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (TokenTransferred) EventType() string { return TypeTokenTransferred }

// Event converts the structured payload into a broadcastable event.
func (e TokenTransferred) Event() *types.Event {
	attrs := map[string]string{
		"asset": e.Asset,
		"from":  e.From,
		"to":    e.To,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTokenTransferred, Attributes: attrs}
}
