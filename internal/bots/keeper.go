package bots

import (
	"context"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/types"
)

// Keeper scans every open position of a market and liquidates the
// unhealthy ones through the explicit trigger. It complements the scan
// the exchange runs after trades, which a quiet book never triggers.
type Keeper struct {
	*BaseBot
	log        *logging.Logger
	liquidated int
}

func NewKeeper(id, market string, interval time.Duration, ex *exchange.Exchange, log *logging.Logger) *Keeper {
	return &Keeper{
		BaseBot: NewBaseBot(id, market, interval, ex, nil, 0),
		log:     log.Named("keeper"),
	}
}

func (k *Keeper) Step(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.ex.Market(k.market)
	if err != nil {
		return err
	}
	for _, pos := range m.Positions() {
		h, err := k.ex.Health(pos.Trader, k.market)
		if err != nil || !h.Liquidatable {
			continue
		}
		out, err := k.ex.CheckAndLiquidate(ctx, pos.Trader, k.market)
		if types.KindOf(err) == types.LiquidationError {
			// raced with the exchange scan
			continue
		}
		if err != nil {
			return err
		}
		k.liquidated++
		k.log.Info("liquidated",
			logging.Trader(out.Trader),
			logging.MarketID(out.MarketID),
			logging.Uint64("mark", out.MarkPrice),
			logging.Stringer("bad_debt", out.BadDebt),
		)
	}
	return nil
}

// Liquidated returns how many positions this keeper closed.
func (k *Keeper) Liquidated() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.liquidated
}
