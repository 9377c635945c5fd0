package orderbook

import (
	"time"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Order is a resting or incoming order. Price is in ticks (0 for market
// orders), sizes are base units.
type Order struct {
	ID        types.OrderID   `json:"id"`
	Trader    string          `json:"trader"`
	MarketID  string          `json:"market_id"`
	Side      types.Side      `json:"side"`
	Type      types.OrderType `json:"type"`
	Mode      types.Mode      `json:"mode"`
	Price     uint64          `json:"price"`
	Size      *num.Uint       `json:"size"`
	Remaining *num.Uint       `json:"remaining"`
	// Reserved is the collateral still held for the unfilled remainder.
	Reserved  *num.Uint `json:"reserved"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *Order) Filled() *num.Uint {
	return num.NewUint(0).Sub(o.Size, o.Remaining)
}

func (o *Order) IsFilled() bool {
	return o.Remaining.IsZero()
}

func (o *Order) Clone() *Order {
	c := *o
	c.Size = cloneOrZero(o.Size)
	c.Remaining = cloneOrZero(o.Remaining)
	c.Reserved = cloneOrZero(o.Reserved)
	return &c
}

func cloneOrZero(u *num.Uint) *num.Uint {
	if u == nil {
		return num.UintZero()
	}
	return u.Clone()
}

// crosses reports whether o can trade against a resting level at price.
func (o *Order) crosses(price uint64) bool {
	if o.Type == types.Market {
		return true
	}
	if o.Side == types.Buy {
		return o.Price >= price
	}
	return o.Price <= price
}
