package bots

import (
	"context"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// TrendBot watches the mark price over a window of steps. A momentum bot
// chases a move larger than minMoveBps; a mean reversion bot fades it.
type TrendBot struct {
	*BaseBot
	lookback    int    // Steps between the compared prices
	minMoveBps  uint64 // Minimum move to trigger
	follow      bool   // Chase the move instead of fading it
	tradeSize   *num.Uint
	maxPosition *num.Uint

	history []uint64
}

// NewTrendBot creates a directional bot
func NewTrendBot(id, market string, lookback int, minMoveBps uint64, follow bool, size, maxPos *num.Uint, interval time.Duration, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *TrendBot {
	return &TrendBot{
		BaseBot:     NewBaseBot(id, market, interval, ex, ref, seed),
		lookback:    lookback,
		minMoveBps:  minMoveBps,
		follow:      follow,
		tradeSize:   size,
		maxPosition: maxPos,
	}
}

func (t *TrendBot) Step(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	price, err := t.ex.MarkPrice(t.market)
	if err != nil {
		return err
	}
	t.history = append(t.history, price)
	if len(t.history) > t.lookback+1 {
		t.history = t.history[1:]
	}
	// Need full window
	if len(t.history) <= t.lookback {
		return nil
	}

	old := t.history[0]
	up := price >= old
	move := price - old
	if !up {
		move = old - price
	}
	if move*uint64(num.BpsDenominator) < old*t.minMoveBps {
		return nil
	}

	side := types.Sell
	if up == t.follow {
		side = types.Buy
	}
	// Check position limits
	if !t.withinLimit(side, t.tradeSize, t.maxPosition) {
		return nil
	}
	_, err = t.placeMarket(ctx, side, t.tradeSize, 300)
	return err
}

// Preset directional bots

// NewMomentumFast chases 1% moves over 5 steps.
func NewMomentumFast(id, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *TrendBot {
	return NewTrendBot(id, market, 5, 100, true, num.Units(3), num.Units(30), 2*time.Second, ex, ref, seed)
}

// NewMeanReversionStandard fades 2% moves over 20 steps.
func NewMeanReversionStandard(id, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *TrendBot {
	return NewTrendBot(id, market, 20, 200, false, num.Units(5), num.Units(40), 5*time.Second, ex, ref, seed)
}
