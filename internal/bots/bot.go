// Package bots drives an exchange with simulated traders: market makers
// quoting around a reference price, noise and directional traders taking
// liquidity, and a keeper that liquidates unhealthy positions.
package bots

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Bot is the interface all trading bots must implement
type Bot interface {
	ID() string
	// Step makes one trading decision. Rejections by the exchange are
	// returned but are part of normal operation.
	Step(ctx context.Context) error
	// Interval is the pause between steps when running in real time.
	Interval() time.Duration
}

// BaseBot provides common functionality for all bots
type BaseBot struct {
	mu sync.Mutex

	id       string
	market   string
	interval time.Duration
	ex       *exchange.Exchange
	ref      *PriceGenerator
	rng      *rand.Rand
}

// NewBaseBot creates a new base bot
func NewBaseBot(id, market string, interval time.Duration, ex *exchange.Exchange, ref *PriceGenerator, seed int64) *BaseBot {
	return &BaseBot{
		id:       id,
		market:   market,
		interval: interval,
		ex:       ex,
		ref:      ref,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (b *BaseBot) ID() string {
	return b.id
}

func (b *BaseBot) Interval() time.Duration {
	return b.interval
}

// Position returns the signed position size, zero when flat.
func (b *BaseBot) Position() *num.Int {
	pos, ok, err := b.ex.Position(b.id, b.market)
	if err != nil || !ok {
		return num.IntZero()
	}
	return pos.Size.Clone()
}

// withinLimit reports whether adding size on side keeps |position| <= max.
// A nil max means no limit.
func (b *BaseBot) withinLimit(side types.Side, size, max *num.Uint) bool {
	if max == nil {
		return true
	}
	next := b.Position().Add(num.IntFromUint(size, side == types.Buy))
	return next.Abs().LTE(max)
}

func (b *BaseBot) placeLimit(ctx context.Context, side types.Side, price uint64, size *num.Uint) (*exchange.OrderResult, error) {
	return b.ex.PlaceLimitOrder(ctx, b.id, b.market, price, size, side, types.Margin)
}

func (b *BaseBot) placeMarket(ctx context.Context, side types.Side, size *num.Uint, maxSlippageBps uint16) (*exchange.MarketResult, error) {
	return b.ex.PlaceMarketOrder(ctx, b.id, b.market, size, side, &maxSlippageBps)
}

// CancelAllOrders cancels all orders for this bot
func (b *BaseBot) CancelAllOrders(ctx context.Context) {
	orders, err := b.ex.Orders(b.id, b.market)
	if err != nil {
		return
	}
	for _, o := range orders {
		b.ex.CancelOrder(ctx, b.id, o.ID)
	}
}

// Stats counts steps and rejections over the bots of a manager.
type Stats struct {
	TotalBots    int            `json:"total_bots"`
	MarketMakers int            `json:"market_makers"`
	Directional  int            `json:"directional"`
	NoiseTraders int            `json:"noise_traders"`
	Keepers      int            `json:"keepers"`
	BotIDs       []string       `json:"bot_ids"`
	Steps        int            `json:"steps"`
	Rejects      map[string]int `json:"rejects"`
}

// Manager manages a collection of bots
type Manager struct {
	mu sync.Mutex

	ex      *exchange.Exchange
	log     *logging.Logger
	bots    []Bot
	steps   int
	rejects map[string]int
}

func NewManager(ex *exchange.Exchange, log *logging.Logger) *Manager {
	return &Manager{
		ex:      ex,
		log:     log.Named("bots"),
		rejects: map[string]int{},
	}
}

// Add adds a bot to the manager
func (m *Manager) Add(bot Bot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots = append(m.bots, bot)
}

// Fund deposits amount for every bot.
func (m *Manager) Fund(ctx context.Context, amount *num.Uint) error {
	for _, bot := range m.list() {
		if _, err := m.ex.Deposit(ctx, bot.ID(), amount); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one step of every bot in order.
func (m *Manager) Step(ctx context.Context) error {
	for _, bot := range m.list() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.record(bot, bot.Step(ctx))
	}
	return nil
}

// Run steps every bot on its own interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, bot := range m.list() {
		wg.Add(1)
		go func(bot Bot) {
			defer wg.Done()
			runPeriodic(ctx, bot.Interval(), func() {
				m.record(bot, bot.Step(ctx))
			})
		}(bot)
	}
	wg.Wait()
}

func (m *Manager) record(bot Bot, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++
	if err == nil {
		return
	}
	kind := types.KindOf(err)
	m.rejects[kind.String()]++
	if kind == types.KindUnknown {
		m.log.Warn("bot step failed", logging.Trader(bot.ID()), logging.Error(err))
		return
	}
	m.log.Debug("bot order rejected", logging.Trader(bot.ID()), logging.Error(err))
}

func (m *Manager) list() []Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Bot(nil), m.bots...)
}

// Count returns number of bots
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bots)
}

// Stats returns statistics about the bot ecosystem
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalBots: len(m.bots),
		BotIDs:    make([]string, len(m.bots)),
		Steps:     m.steps,
		Rejects:   make(map[string]int, len(m.rejects)),
	}
	for k, v := range m.rejects {
		stats.Rejects[k] = v
	}
	for i, bot := range m.bots {
		stats.BotIDs[i] = bot.ID()
		switch bot.(type) {
		case *MarketMakerBot:
			stats.MarketMakers++
		case *TrendBot:
			stats.Directional++
		case *NoiseTraderBot, *PanicBot:
			stats.NoiseTraders++
		case *Keeper:
			stats.Keepers++
		}
	}
	sort.Strings(stats.BotIDs)
	return stats
}

// Helper for running periodic tasks
func runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// unitsOf truncates a base amount to whole units.
func unitsOf(u *num.Uint) uint64 {
	return num.NewUint(0).Div(u, num.BaseOne()).Uint64()
}

func offset(price uint64, delta int64) uint64 {
	if delta < 0 {
		if uint64(-delta) >= price {
			return 1
		}
		return price - uint64(-delta)
	}
	return price + uint64(delta)
}
