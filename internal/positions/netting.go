// Package positions keeps the net position of every trader in one market
// and implements the netting of fills into positions.
package positions

import (
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Kind names the netting branch a fill took.
type Kind int

const (
	Unchanged Kind = iota
	Increase
	Reduce
	Close
	Flip
)

func (k Kind) String() string {
	switch k {
	case Increase:
		return "increase"
	case Reduce:
		return "reduce"
	case Close:
		return "close"
	case Flip:
		return "flip"
	default:
		return "unchanged"
	}
}

// Result is the outcome of netting one fill into a position.
type Result struct {
	Kind     Kind
	Position types.Position
	// Realized is the P&L of the closed part of this fill only.
	Realized *num.Int
	// Closed is the size that was closed by this fill.
	Closed       *num.Uint
	MarginBefore *num.Uint
	MarginAfter  *num.Uint
}

// MarginDelta returns MarginAfter - MarginBefore as a signed amount.
func (r Result) MarginDelta() *num.Int {
	return num.IntFromUint(r.MarginAfter, true).Sub(num.IntFromUint(r.MarginBefore, true))
}

// Net applies a signed fill (positive buys, negative sells) at price to pos
// and returns the resulting position in a single transition. pos is not
// modified. The locked margin of the result is always
// Notional(|size|, avgEntryPrice).
func Net(pos types.Position, delta *num.Int, price uint64) Result {
	next := pos.Clone()
	res := Result{
		Kind:         Unchanged,
		Realized:     num.IntZero(),
		Closed:       num.UintZero(),
		MarginBefore: next.LockedMargin.Clone(),
	}
	if delta == nil || delta.IsZero() {
		res.Position = next
		res.MarginAfter = next.LockedMargin.Clone()
		return res
	}

	old := next.Size
	oldAbs := old.Abs()
	deltaAbs := delta.Abs()

	switch {
	case old.IsZero() || old.IsNegative() == delta.IsNegative():
		res.Kind = Increase
		total := num.Sum(oldAbs, deltaAbs)
		weighted := num.NewUint(0).Mul(oldAbs, num.NewUint(next.AvgEntryPrice))
		weighted.Add(weighted, num.NewUint(0).Mul(deltaAbs, num.NewUint(price)))
		next.AvgEntryPrice = weighted.Div(weighted, total).Uint64()
		next.Size = num.IntFromUint(total, delta.IsPositive())

	case deltaAbs.LT(oldAbs):
		res.Kind = Reduce
		res.Closed = deltaAbs
		res.Realized = PnL(old.IsPositive(), deltaAbs, next.AvgEntryPrice, price)
		next.Size = old.Clone().Add(delta)

	case deltaAbs.EQ(oldAbs):
		res.Kind = Close
		res.Closed = oldAbs
		res.Realized = PnL(old.IsPositive(), oldAbs, next.AvgEntryPrice, price)
		next.Size = num.IntZero()
		next.AvgEntryPrice = 0

	default:
		res.Kind = Flip
		res.Closed = oldAbs
		res.Realized = PnL(old.IsPositive(), oldAbs, next.AvgEntryPrice, price)
		excess := num.NewUint(0).Sub(deltaAbs, oldAbs)
		next.Size = num.IntFromUint(excess, delta.IsPositive())
		next.AvgEntryPrice = price
	}

	next.LockedMargin = num.Notional(next.Size.Abs(), next.AvgEntryPrice)
	next.RealizedPnL.Add(res.Realized)
	res.Position = next
	res.MarginAfter = next.LockedMargin.Clone()
	return res
}

// PnL returns the profit of closing size at exit for a position opened at
// entry: Notional(size, exit) - Notional(size, entry) for longs, the
// opposite for shorts.
func PnL(long bool, size *num.Uint, entry, exit uint64) *num.Int {
	r := num.IntFromUint(num.Notional(size, exit), true)
	r.Sub(num.IntFromUint(num.Notional(size, entry), true))
	if !long {
		r.FlipSign()
	}
	return r
}

// Unrealized returns the P&L of closing pos entirely at price.
func Unrealized(pos types.Position, price uint64) *num.Int {
	if !pos.IsActive() {
		return num.IntZero()
	}
	return PnL(pos.Size.IsPositive(), pos.Size.Abs(), pos.AvgEntryPrice, price)
}
