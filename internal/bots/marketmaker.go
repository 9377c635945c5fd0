package bots

import (
	"context"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// MMConfig configures a market maker bot
type MMConfig struct {
	ID            string
	HalfSpread    uint64        // Distance from reference to the first quote (in ticks)
	SizePerLevel  *num.Uint     // Quantity per price level
	Levels        int           // Number of levels on each side
	QuoteInterval time.Duration // How often to re-quote
	MaxPosition   *num.Uint     // Maximum allowed |position|, nil for none
	// InventorySkew moves both quotes this many ticks per whole unit of
	// inventory, against the inventory.
	InventorySkew uint64
}

// MarketMakerBot provides liquidity around the reference price
type MarketMakerBot struct {
	*BaseBot
	config MMConfig
}

// NewMarketMakerBot creates a new market maker bot
func NewMarketMakerBot(config MMConfig, market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *MarketMakerBot {
	return &MarketMakerBot{
		BaseBot: NewBaseBot(config.ID, market, config.QuoteInterval, ex, ref, seed),
		config:  config,
	}
}

// Step pulls every quote and re-quotes around the reference price.
func (mm *MarketMakerBot) Step(ctx context.Context) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.CancelAllOrders(ctx)

	refPrice := mm.ref.Price()
	if refPrice == 0 {
		return nil
	}

	// If long, lower both quotes (less eager to buy more)
	// If short, raise them (less eager to sell more)
	pos := mm.Position()
	skew := int64(unitsOf(pos.Abs()) * mm.config.InventorySkew)
	if pos.IsNegative() {
		skew = -skew
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	size := mm.config.SizePerLevel
	for i := 1; i <= mm.config.Levels; i++ {
		step := int64(mm.config.HalfSpread) * int64(i)
		if mm.withinLimit(types.Buy, size, mm.config.MaxPosition) {
			if bid := offset(refPrice, -step-skew); bid > 1 {
				_, err := mm.placeLimit(ctx, types.Buy, bid, size)
				keep(err)
			}
		}
		if mm.withinLimit(types.Sell, size, mm.config.MaxPosition) {
			_, err := mm.placeLimit(ctx, types.Sell, offset(refPrice, step-skew), size)
			keep(err)
		}
	}
	return firstErr
}

// Preset market maker configurations

// NewTightMM quotes 0.05 wide in small size, re-quoting fast.
func NewTightMM(market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *MarketMakerBot {
	return NewMarketMakerBot(MMConfig{
		ID:            "mm_tight",
		HalfSpread:    50_000,
		SizePerLevel:  num.Units(2),
		Levels:        3,
		QuoteInterval: 500 * time.Millisecond,
		MaxPosition:   num.Units(50),
		InventorySkew: 5_000,
	}, market, ex, ref, seed)
}

// NewWideMM quotes 0.25 wide in large size and ignores inventory.
func NewWideMM(market string, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *MarketMakerBot {
	return NewMarketMakerBot(MMConfig{
		ID:            "mm_wide",
		HalfSpread:    250_000,
		SizePerLevel:  num.Units(20),
		Levels:        3,
		QuoteInterval: 2 * time.Second,
	}, market, ex, ref, seed)
}
