package bots

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PriceGenerator produces a reference price in ticks via random walk.
// Market makers quote around it; it is never fed to the exchange.
type PriceGenerator struct {
	mu         sync.RWMutex
	price      uint64  // Current price in ticks
	volatility float64 // Standard deviation of price changes (in ticks)
	drift      float64 // Mean drift per step (in ticks, usually 0)
	minPrice   uint64  // Floor price
	rng        *rand.Rand
}

// NewPriceGenerator creates a new random walk price generator
func NewPriceGenerator(initialPrice uint64, volatility float64, seed int64) *PriceGenerator {
	return &PriceGenerator{
		price:      initialPrice,
		volatility: volatility,
		minPrice:   1,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Price returns the current synthetic price
func (pg *PriceGenerator) Price() uint64 {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return pg.price
}

// Step performs one random walk step and returns the new price.
func (pg *PriceGenerator) Step() uint64 {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	// Random walk: price += drift + volatility * N(0,1)
	change := int64(pg.drift + pg.volatility*pg.rng.NormFloat64())
	pg.price = offset(pg.price, change)
	if pg.price < pg.minPrice {
		pg.price = pg.minPrice
	}
	return pg.price
}

// Run steps the walk at the given interval until ctx is done.
func (pg *PriceGenerator) Run(ctx context.Context, interval time.Duration) {
	runPeriodic(ctx, interval, func() { pg.Step() })
}

// SetVolatility adjusts the volatility (in ticks)
func (pg *PriceGenerator) SetVolatility(v float64) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.volatility = v
}

// SetDrift adjusts the drift (in ticks per step)
func (pg *PriceGenerator) SetDrift(d float64) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.drift = d
}
