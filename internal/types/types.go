package types

import (
	"time"

	"marginbook/internal/num"
)

type OrderID uint64

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide converts "buy"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, ErrInvalidSide
}

// Mode tags how an order is settled. It is validated once at the
// boundary; matching never inspects it beyond reservation and netting.
type Mode int

const (
	// Margin orders reserve collateral and update positions.
	Margin Mode = iota
	// Spot orders are settled outside the core and never touch positions.
	Spot
)

func (m Mode) String() string {
	if m == Spot {
		return "spot"
	}
	return "margin"
}

func (m Mode) Valid() bool {
	return m == Margin || m == Spot
}

type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// Trade is an immutable record of one match between an incoming and a
// resting order. Price is in ticks, Size in base units.
type Trade struct {
	ID          uint64    `json:"id"`
	MarketID    string    `json:"market_id"`
	Price       uint64    `json:"price"`
	Size        *num.Uint `json:"size"`
	BuyOrderID  OrderID   `json:"buy_order_id"`
	SellOrderID OrderID   `json:"sell_order_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	BuyerFee    *num.Uint `json:"buyer_fee"`
	SellerFee   *num.Uint `json:"seller_fee"`
	Aggressor   Side      `json:"aggressor"`
	Timestamp   time.Time `json:"timestamp"`
}

// Position is a read-only view of a trader's net position in a market.
type Position struct {
	Trader        string    `json:"trader"`
	MarketID      string    `json:"market_id"`
	Size          *num.Int  `json:"size"`
	AvgEntryPrice uint64    `json:"avg_entry_price"`
	LockedMargin  *num.Uint `json:"locked_margin"`
	RealizedPnL   *num.Int  `json:"realized_pnl"`
}

// IsActive reports whether the position holds any size.
func (p *Position) IsActive() bool {
	return p != nil && !p.Size.IsZero()
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p.Size.IsPositive()
}

// Clone returns a deep copy with nil amounts replaced by zero.
func (p Position) Clone() Position {
	c := p
	c.Size = num.IntZero()
	if p.Size != nil {
		c.Size = p.Size.Clone()
	}
	c.LockedMargin = num.UintZero()
	if p.LockedMargin != nil {
		c.LockedMargin = p.LockedMargin.Clone()
	}
	c.RealizedPnL = num.IntZero()
	if p.RealizedPnL != nil {
		c.RealizedPnL = p.RealizedPnL.Clone()
	}
	return c
}

// Level is an aggregated price level.
type Level struct {
	Price  uint64    `json:"price"`
	Volume *num.Uint `json:"volume"`
	Orders int       `json:"orders"`
}

// Depth is the aggregated top of book, best price first on both sides.
type Depth struct {
	MarketID string  `json:"market_id"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

// LiquidationOutcome describes one forced close.
type LiquidationOutcome struct {
	Trader          string    `json:"trader"`
	MarketID        string    `json:"market_id"`
	ClosedSize      *num.Int  `json:"closed_size"`
	MarkPrice       uint64    `json:"mark_price"`
	RealizedPnL     *num.Int  `json:"realized_pnl"`
	Penalty         *num.Uint `json:"penalty"`
	BadDebt         *num.Uint `json:"bad_debt"`
	CancelledOrders []OrderID `json:"cancelled_orders"`
	Timestamp       time.Time `json:"timestamp"`
}
