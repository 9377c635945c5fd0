package bots

import (
	"fmt"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/logging"
)

// CreateEcosystem creates the full bot ecosystem for one market.
// Seeds derive from seed so a run is reproducible.
func CreateEcosystem(market string, ex *exchange.Exchange, ref *PriceGenerator, log *logging.Logger, seed int64) *Manager {
	manager := NewManager(ex, log)
	next := func() int64 {
		seed++
		return seed
	}

	// Market makers
	manager.Add(NewTightMM(market, ex, ref, next()))
	manager.Add(NewWideMM(market, ex, ref, next()))

	// Directional traders
	manager.Add(NewMomentumFast("momentum_fast_1", market, ex, ref, next()))
	manager.Add(NewMeanReversionStandard("mean_reversion_1", market, ex, ref, next()))

	// Noise traders
	for i := 1; i <= 3; i++ {
		manager.Add(NewRandomSmall(fmt.Sprintf("noise_small_%d", i), market, ex, ref, next()))
	}
	manager.Add(NewRandomLarge("noise_large_1", market, ex, ref, next()))
	manager.Add(NewPanicStandard("panic_1", market, ex, ref, next()))

	manager.Add(NewKeeper("keeper", market, time.Second, ex, log))
	return manager
}

// CreateMinimalEcosystem creates a smaller bot ecosystem for testing
func CreateMinimalEcosystem(market string, ex *exchange.Exchange, ref *PriceGenerator, log *logging.Logger, seed int64) *Manager {
	manager := NewManager(ex, log)
	manager.Add(NewTightMM(market, ex, ref, seed+1))
	manager.Add(NewRandomSmall("noise_1", market, ex, ref, seed+2))
	manager.Add(NewKeeper("keeper", market, time.Second, ex, log))
	return manager
}
