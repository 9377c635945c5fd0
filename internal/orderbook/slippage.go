package orderbook

import (
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// slippageGuard tracks the running execution VWAP of a market order and
// checks it against reference*(1 +/- bps/10000). The comparison is done by
// cross multiplication so no precision is lost:
//
//	buy:  sum(p*s) * 10000 <= ref * (10000 + bps) * sum(s)
//	sell: sum(p*s) * 10000 >= ref * (10000 - bps) * sum(s)
type slippageGuard struct {
	side     types.Side
	bound    *num.Uint
	notional *num.Uint
	volume   *num.Uint
}

func newSlippageGuard(s types.Side, reference uint64, bps uint16) *slippageGuard {
	factor := uint64(num.BpsDenominator)
	if s == types.Buy {
		factor += uint64(bps)
	} else if uint64(bps) >= factor {
		factor = 0
	} else {
		factor -= uint64(bps)
	}
	return &slippageGuard{
		side:     s,
		bound:    num.NewUint(0).Mul(num.NewUint(reference), num.NewUint(factor)),
		notional: num.UintZero(),
		volume:   num.UintZero(),
	}
}

// add records a fill and reports whether the running VWAP is still within
// bounds.
func (g *slippageGuard) add(price uint64, size *num.Uint) bool {
	g.notional.Add(g.notional, num.NewUint(0).Mul(size, num.NewUint(price)))
	g.volume.Add(g.volume, size)

	lhs := num.NewUint(0).Mul(g.notional, num.NewUint(num.BpsDenominator))
	rhs := num.NewUint(0).Mul(g.bound, g.volume)
	if g.side == types.Buy {
		return lhs.LTE(rhs)
	}
	return lhs.GTE(rhs)
}
