// Package events defines what the exchange publishes after each committed
// state transition, and the broker that fans them out to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"

	"marginbook/internal/ledger"
	"marginbook/internal/markprice"
	"marginbook/internal/orderbook"
	"marginbook/internal/types"
)

type Type int

const (
	// All is used by subscribers that want every event.
	All Type = iota
	TradeEvent
	OrderEvent
	PositionEvent
	LiquidationEvent
	AccountEvent
	MarkPriceEvent
)

var typeStrings = map[Type]string{
	All:              "all",
	TradeEvent:       "trade",
	OrderEvent:       "order",
	PositionEvent:    "position",
	LiquidationEvent: "liquidation",
	AccountEvent:     "account",
	MarkPriceEvent:   "mark_price",
}

func (t Type) String() string {
	if s, ok := typeStrings[t]; ok {
		return s
	}
	return "unknown"
}

// ParseType converts a type name back, for API subscription filters.
func ParseType(s string) (Type, bool) {
	for t, name := range typeStrings {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

type Event interface {
	Type() Type
	ID() string
	MarketID() string
	Timestamp() time.Time
}

// Base is embedded by every event.
type Base struct {
	EventID string    `json:"event_id"`
	Kind    string    `json:"type"`
	Market  string    `json:"market_id,omitempty"`
	Time    time.Time `json:"timestamp"`
	et      Type
}

func newBase(et Type, market string, ts time.Time) Base {
	return Base{EventID: uuid.NewString(), Kind: et.String(), Market: market, Time: ts, et: et}
}

func (b Base) Type() Type           { return b.et }
func (b Base) ID() string           { return b.EventID }
func (b Base) MarketID() string     { return b.Market }
func (b Base) Timestamp() time.Time { return b.Time }

type Trade struct {
	Base
	Trade types.Trade `json:"trade"`
}

func NewTrade(t types.Trade) *Trade {
	return &Trade{Base: newBase(TradeEvent, t.MarketID, t.Timestamp), Trade: t}
}

// OrderStatus is the lifecycle step an order event reports.
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "placed"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

type Order struct {
	Base
	Order  *orderbook.Order `json:"order"`
	Status OrderStatus      `json:"status"`
	Reason string           `json:"reason,omitempty"`
	// ErrorKind is the error kind of a rejection.
	ErrorKind string `json:"error_kind,omitempty"`
}

func NewOrder(o *orderbook.Order, status OrderStatus, ts time.Time) *Order {
	return &Order{Base: newBase(OrderEvent, o.MarketID, ts), Order: o.Clone(), Status: status}
}

// NewRejectedOrder reports an order that failed validation or matching.
func NewRejectedOrder(o *orderbook.Order, err error, ts time.Time) *Order {
	e := NewOrder(o, OrderRejected, ts)
	e.Reason = err.Error()
	e.ErrorKind = types.KindOf(err).String()
	return e
}

type Position struct {
	Base
	Position types.Position `json:"position"`
}

func NewPosition(p types.Position, ts time.Time) *Position {
	return &Position{Base: newBase(PositionEvent, p.MarketID, ts), Position: p.Clone()}
}

type Liquidation struct {
	Base
	Outcome types.LiquidationOutcome `json:"outcome"`
}

func NewLiquidation(o types.LiquidationOutcome) *Liquidation {
	return &Liquidation{Base: newBase(LiquidationEvent, o.MarketID, o.Timestamp), Outcome: o}
}

type Account struct {
	Base
	Account ledger.Account `json:"account"`
}

func NewAccount(a ledger.Account, ts time.Time) *Account {
	return &Account{Base: newBase(AccountEvent, "", ts), Account: a}
}

type MarkPrice struct {
	Base
	Price  uint64           `json:"price"`
	Source markprice.Source `json:"source"`
}

func NewMarkPrice(market string, price uint64, src markprice.Source, ts time.Time) *MarkPrice {
	return &MarkPrice{Base: newBase(MarkPriceEvent, market, ts), Price: price, Source: src}
}
