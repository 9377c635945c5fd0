package exchange

import (
	"marginbook/internal/fee"
	"marginbook/internal/history"
	"marginbook/internal/liquidation"
	"marginbook/internal/markprice"
	"marginbook/internal/num"
)

// MarketConfig holds the rules of one market.
type MarketConfig struct {
	ID string
	// MarginOnly rejects spot orders. Markets are margin only by default.
	MarginOnly bool
	// TickSize, when non-zero, requires limit prices to be a multiple of it.
	TickSize uint64
	// MinSize, when set, is the smallest accepted order size.
	MinSize         *num.Uint
	HistoryCapacity int
	MarkPrice       markprice.Config
	Liquidation     liquidation.Config
	Fees            fee.Schedule
}

func DefaultMarketConfig(id string) MarketConfig {
	return MarketConfig{
		ID:              id,
		MarginOnly:      true,
		HistoryCapacity: history.DefaultCapacity,
		MarkPrice:       markprice.DefaultConfig(),
		Liquidation:     liquidation.DefaultConfig(),
		Fees:            fee.Default(),
	}
}
