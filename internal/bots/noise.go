package bots

import (
	"context"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// NoiseTraderBot places random market orders to create market texture
type NoiseTraderBot struct {
	*BaseBot
	minSize     uint64  // Minimum order size in units
	maxSize     uint64  // Maximum order size in units
	bias        float64 // Directional bias (-1 to +1, 0 = neutral)
	maxSlippage uint16  // Slippage bound in bps
	maxPosition *num.Uint
}

// NewNoiseTraderBot creates a noise trader
func NewNoiseTraderBot(id, market string, interval time.Duration, minSize, maxSize uint64, bias float64, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *NoiseTraderBot {
	return &NoiseTraderBot{
		BaseBot:     NewBaseBot(id, market, interval, ex, ref, seed),
		minSize:     minSize,
		maxSize:     maxSize,
		bias:        bias,
		maxSlippage: 200,
		maxPosition: num.Units(maxSize * 10),
	}
}

func (n *NoiseTraderBot) Step(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Random size
	size := num.Units(n.minSize + uint64(n.rng.Int63n(int64(n.maxSize-n.minSize+1))))

	// Random side with bias
	side := types.Buy
	if n.rng.Float64() > (0.5 + n.bias/2) {
		side = types.Sell
	}
	if !n.withinLimit(side, size, n.maxPosition) {
		side = side.Opposite()
	}

	_, err := n.placeMarket(ctx, side, size, n.maxSlippage)
	return err
}

// Preset noise traders

// NewRandomSmall places small random orders frequently
func NewRandomSmall(id, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *NoiseTraderBot {
	return NewNoiseTraderBot(id, market, 3*time.Second, 1, 3, 0, ex, ref, seed)
}

// NewRandomLarge places larger random orders infrequently
func NewRandomLarge(id, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *NoiseTraderBot {
	return NewNoiseTraderBot(id, market, 30*time.Second, 5, 15, 0, ex, ref, seed)
}

// PanicBot overreacts to mark price moves
type PanicBot struct {
	*BaseBot
	thresholdBps uint64    // Mark move that triggers panic
	panicSize    *num.Uint // Size of panic trades
	cooldown     int       // Steps between panics
	sinceLast    int
	lastPrice    uint64
}

// NewPanicBot creates a panic trader
func NewPanicBot(id, market string, thresholdBps uint64, size *num.Uint, cooldown int, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *PanicBot {
	return &PanicBot{
		BaseBot:      NewBaseBot(id, market, time.Second, ex, ref, seed),
		thresholdBps: thresholdBps,
		panicSize:    size,
		cooldown:     cooldown,
		sinceLast:    cooldown,
	}
}

func (p *PanicBot) Step(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, err := p.ex.MarkPrice(p.market)
	if err != nil {
		return err
	}
	last := p.lastPrice
	p.lastPrice = price
	p.sinceLast++
	if last == 0 || p.sinceLast <= p.cooldown {
		return nil
	}

	move, side := price-last, types.Buy
	if price < last {
		move, side = last-price, types.Sell
	}
	// Check if move exceeds panic threshold
	if move*uint64(num.BpsDenominator) < last*p.thresholdBps {
		return nil
	}

	// Trade in the direction of the move (chase)
	p.sinceLast = 0
	_, err = p.placeMarket(ctx, side, p.panicSize, 500)
	return err
}

// NewPanicStandard creates a standard panic bot
func NewPanicStandard(id, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *PanicBot {
	return NewPanicBot(id, market, 30, num.Units(5), 5, ex, ref, seed)
}
