package events

import (
	"math/big"
	"strconv"

	"forwardnet/core/types"
)

// TypePricePosted marks a price observation accepted into the router cache.
const TypePricePosted = "oracle.price_posted"

// PricePosted records an accepted price observation.
type PricePosted struct {
	Pair      string
	Price     *big.Int
	Source    string
	Timestamp int64
}

// EventType satisfies the events.Event interface.
func (PricePosted) EventType() string { return TypePricePosted }

// Event converts the structured payload into a broadcastable event.
func (e PricePosted) Event() *types.Event {
	attrs := map[string]string{
		"pair":      e.Pair,
		"source":    e.Source,
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}
	if e.Price != nil {
		attrs["price"] = e.Price.String()
	}
	return &types.Event{Type: TypePricePosted, Attributes: attrs}
}
