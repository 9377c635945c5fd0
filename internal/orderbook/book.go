// Package orderbook is the price-time priority book of one market.
//
// Matching is split in two steps: Plan walks the opposing side and returns
// the fills an order would produce without touching the book, Commit applies
// a plan. Callers validate margin and fees between the two, so a rejected
// order leaves the book exactly as it was. A Book is not safe for concurrent
// use; its market serialises access.
package orderbook

import (
	"sort"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Fill is one planned trade between the incoming order and a resting order.
type Fill struct {
	// Maker is the resting order as it was before this fill.
	Maker *Order
	Price uint64
	Size  *num.Uint
	// MakerRemaining is the resting order's remaining size after the fill.
	MakerRemaining *num.Uint
	// MakerRelease is the part of the resting order's reservation freed by
	// the fill. The last fill of an order frees whatever is left. The
	// exchange may raise it, within the order's reservation, when the
	// maker's new margin lock rounds above what the fill freed.
	MakerRelease *num.Uint
}

// Match is the outcome of planning an incoming order.
type Match struct {
	// Taker is a copy of the incoming order with Remaining already reduced
	// by the planned fills.
	Taker *Order
	Fills []Fill
	// Filled is the total size of all fills.
	Filled *num.Uint
	// Reference is the best opposing price at submission, zero if none.
	Reference uint64
}

// Rests reports whether the taker's remainder goes on the book once the
// match is committed. Market remainders are dropped.
func (m *Match) Rests() bool {
	return m.Taker.Type == types.Limit && !m.Taker.Remaining.IsZero()
}

// Notional is the sum of price*size over all fills, in quote units.
func (m *Match) Notional() *num.Uint {
	total := num.UintZero()
	for _, f := range m.Fills {
		total.Add(total, num.Notional(f.Size, f.Price))
	}
	return total
}

// AvgPrice is the volume weighted execution price in ticks, zero without fills.
func (m *Match) AvgPrice() uint64 {
	if m.Filled.IsZero() {
		return 0
	}
	notional := num.UintZero()
	for _, f := range m.Fills {
		notional.Add(notional, num.NewUint(0).Mul(f.Size, num.NewUint(f.Price)))
	}
	return notional.Div(notional, m.Filled).Uint64()
}

type Book struct {
	MarketID string

	bids   *side
	asks   *side
	orders map[types.OrderID]*Order
}

func New(marketID string) *Book {
	return &Book{
		MarketID: marketID,
		bids:     newSide(types.Buy),
		asks:     newSide(types.Sell),
		orders:   make(map[types.OrderID]*Order),
	}
}

func (b *Book) sideOf(s types.Side) *side {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// Plan computes the fills of o against the opposing side without mutating
// the book or o. For market orders, maxSlippageBps bounds the running
// volume weighted execution price against the best opposing price at
// submission.
func (b *Book) Plan(o *Order, maxSlippageBps *uint16) (*Match, error) {
	if o.Type == types.Limit && o.Price == 0 {
		return nil, types.ErrInvalidPrice
	}
	if o.Remaining == nil || o.Remaining.IsZero() || o.Remaining.GT(num.MaxSize) {
		return nil, types.ErrInvalidSize
	}

	taker := o.Clone()
	opp := b.sideOf(taker.Side.Opposite())
	m := &Match{Taker: taker, Filled: num.UintZero()}

	best := opp.best()
	if best != nil {
		m.Reference = best.price
	}
	if taker.Type == types.Market && best == nil {
		return nil, types.ErrNoLiquidity
	}

	var guard *slippageGuard
	if taker.Type == types.Market && maxSlippageBps != nil {
		guard = newSlippageGuard(taker.Side, m.Reference, *maxSlippageBps)
	}

	var err error
	opp.walk(func(l *level) bool {
		if !taker.crosses(l.price) {
			return false
		}
		for _, id := range l.orders {
			maker := b.orders[id]
			size := num.Min(taker.Remaining, maker.Remaining).Clone()
			remaining := num.NewUint(0).Sub(maker.Remaining, size)

			m.Fills = append(m.Fills, Fill{
				Maker:          maker.Clone(),
				Price:          l.price,
				Size:           size,
				MakerRemaining: remaining,
				MakerRelease:   releaseFor(maker, remaining),
			})
			taker.Remaining.Sub(taker.Remaining, size)
			m.Filled.Add(m.Filled, size)

			if guard != nil && !guard.add(l.price, size) {
				err = types.Wrapf(types.ErrSlippageExceeded, "reference %d, %d bps", m.Reference, *maxSlippageBps)
				return false
			}
			if taker.Remaining.IsZero() {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// releaseFor returns how much of maker's reservation a fill leaving
// remaining unfilled frees. The reservation kept always covers
// ceil(remaining * price).
func releaseFor(maker *Order, remaining *num.Uint) *num.Uint {
	if maker.Reserved == nil || maker.Reserved.IsZero() {
		return num.UintZero()
	}
	if remaining.IsZero() {
		return maker.Reserved.Clone()
	}
	keep := num.Min(num.NotionalCeil(remaining, maker.Price), maker.Reserved)
	return num.NewUint(0).Sub(maker.Reserved, keep)
}

// Commit applies a plan produced by Plan on the unchanged book. A resting
// remainder is inserted with the taker's Reserved as set by the caller.
func (b *Book) Commit(m *Match) {
	opp := b.sideOf(m.Taker.Side.Opposite())
	for _, f := range m.Fills {
		maker, ok := b.orders[f.Maker.ID]
		if !ok {
			continue
		}
		l := opp.get(maker.Price)
		maker.Remaining = f.MakerRemaining.Clone()
		if !f.MakerRelease.IsZero() {
			maker.Reserved = num.NewUint(0).Sub(maker.Reserved, f.MakerRelease)
		}
		l.volume.Sub(l.volume, f.Size)
		if maker.IsFilled() {
			l.popFront(maker.ID)
			delete(b.orders, maker.ID)
			if l.empty() {
				opp.delete(l)
			}
		}
	}
	if m.Rests() {
		b.insert(m.Taker.Clone())
	}
}

func (b *Book) insert(o *Order) {
	b.orders[o.ID] = o
	b.sideOf(o.Side).getOrCreate(o.Price).push(o)
}

// Cancel removes a resting order and returns it, reservation included.
func (b *Book) Cancel(id types.OrderID) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, types.Wrapf(types.ErrOrderNotFound, "order %d", id)
	}
	s := b.sideOf(o.Side)
	if l := s.get(o.Price); l != nil {
		l.remove(id)
		l.volume.Sub(l.volume, o.Remaining)
		if l.empty() {
			s.delete(l)
		}
	}
	delete(b.orders, id)
	return o, nil
}

// Order returns a copy of a resting order.
func (b *Book) Order(id types.OrderID) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of the trader's resting orders, oldest first.
func (b *Book) Orders(trader string) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Trader == trader {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of resting orders.
func (b *Book) Len() int { return len(b.orders) }

// Depth returns up to n aggregated levels per side, best first. It visits
// at most n levels per side.
func (b *Book) Depth(n int) types.Depth {
	return types.Depth{
		MarketID: b.MarketID,
		Bids:     b.bids.depth(n),
		Asks:     b.asks.depth(n),
	}
}

func (b *Book) BestBid() (uint64, bool) {
	if l := b.bids.best(); l != nil {
		return l.price, true
	}
	return 0, false
}

func (b *Book) BestAsk() (uint64, bool) {
	if l := b.asks.best(); l != nil {
		return l.price, true
	}
	return 0, false
}

// MidPrice returns the midpoint between best bid and ask.
func (b *Book) MidPrice() (uint64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}
