// Package fee computes trading fees. Both sides of a trade pay on the
// trade's notional: the aggressive side the taker rate, the resting side
// the maker rate.
package fee

import (
	"marginbook/internal/num"
	"marginbook/internal/types"
)

type Schedule struct {
	MakerBps uint64 `toml:"maker_bps" json:"maker_bps"`
	TakerBps uint64 `toml:"taker_bps" json:"taker_bps"`
}

// Default charges nothing to makers and 5 bps to takers.
func Default() Schedule {
	return Schedule{MakerBps: 0, TakerBps: 5}
}

func (s Schedule) Maker(notional *num.Uint) *num.Uint {
	return num.Bps(notional, s.MakerBps)
}

func (s Schedule) Taker(notional *num.Uint) *num.Uint {
	return num.Bps(notional, s.TakerBps)
}

// Fees is what each side of one trade owes.
type Fees struct {
	Buyer  *num.Uint
	Seller *num.Uint
	Maker  *num.Uint
	Taker  *num.Uint
}

// ForTrade computes the fees of a trade of size at price where aggressor
// is the side of the incoming order.
func (s Schedule) ForTrade(size *num.Uint, price uint64, aggressor types.Side) Fees {
	notional := num.Notional(size, price)
	f := Fees{Maker: s.Maker(notional), Taker: s.Taker(notional)}
	if aggressor == types.Buy {
		f.Buyer, f.Seller = f.Taker, f.Maker
	} else {
		f.Buyer, f.Seller = f.Maker, f.Taker
	}
	return f
}

// Worst returns the largest fee an order of notional could pay, used to
// check that a taker can afford its fees before matching.
func (s Schedule) Worst(notional *num.Uint) *num.Uint {
	return num.Bps(notional, max(s.MakerBps, s.TakerBps))
}
