// Package integration runs the bot ecosystem against a full exchange with
// the journal and the metrics recorder attached, and checks that the
// three views of the run agree.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginbook/internal/bots"
	"marginbook/internal/events"
	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/metrics"
	"marginbook/internal/num"
	"marginbook/internal/store"
)

const market = "BTC-USD"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type tally struct {
	trades       int
	liquidations int
}

type harness struct {
	ex       *exchange.Exchange
	store    *store.Store
	recorder *metrics.Recorder
	clock    *clock
	counted  *tally
	subs     []*events.Subscription
	wg       sync.WaitGroup
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logging.NewTestLogger()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	ex := exchange.New(exchange.WithClock(clk.now), exchange.WithLogger(log))
	_, err := ex.AddMarket(exchange.DefaultMarketConfig(market))
	require.NoError(t, err)

	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		ex:       ex,
		store:    st,
		recorder: metrics.New(),
		clock:    clk,
		counted:  &tally{},
	}
	ctx := context.Background()
	journalSub := ex.Broker().Subscribe(1 << 16)
	metricsSub := ex.Broker().Subscribe(1 << 16)
	countSub := ex.Broker().Subscribe(1<<16, events.TradeEvent, events.LiquidationEvent)
	h.subs = []*events.Subscription{journalSub, metricsSub, countSub}

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		store.NewJournal(st, log).Run(ctx, journalSub)
	}()
	go func() {
		defer h.wg.Done()
		h.recorder.Run(ctx, metricsSub)
	}()
	go func() {
		defer h.wg.Done()
		for e := range countSub.C() {
			switch e.(type) {
			case *events.Trade:
				h.counted.trades++
			case *events.Liquidation:
				h.counted.liquidations++
			}
		}
	}()
	return h
}

// run steps the ecosystem once per simulated minute, so the mark price
// follows the last five rounds of trading.
func (h *harness) run(t *testing.T, ref *bots.PriceGenerator, seed int64, rounds int) *bots.Manager {
	t.Helper()
	ctx := context.Background()
	manager := bots.CreateEcosystem(market, h.ex, ref, logging.NewTestLogger(), seed)
	require.NoError(t, manager.Fund(ctx, num.Quote(100_000)))
	for i := 0; i < rounds; i++ {
		ref.Step()
		require.NoError(t, manager.Step(ctx))
		h.clock.advance(time.Minute)
	}
	return manager
}

// drain closes the broker and waits for every consumer to finish.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.ex.Broker().Close()
	h.wg.Wait()
	for _, sub := range h.subs {
		require.Zero(t, sub.Dropped(), "consumer fell behind")
	}
}

func (h *harness) journaledLiquidations(t *testing.T) int {
	t.Helper()
	n := 0
	for _, acc := range h.ex.Accounts() {
		recs, err := h.store.Liquidations(acc.Trader)
		require.NoError(t, err)
		n += len(recs)
	}
	return n
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	sum := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return int(sum)
}

func requireReservations(t *testing.T, ex *exchange.Exchange) {
	t.Helper()
	for _, acc := range ex.Accounts() {
		want := num.UintZero()
		if p, ok, err := ex.Position(acc.Trader, market); err == nil && ok {
			want.Add(want, p.LockedMargin)
		}
		orders, err := ex.Orders(acc.Trader, market)
		require.NoError(t, err)
		for _, o := range orders {
			want.Add(want, o.Reserved)
		}
		assert.Equal(t, want.String(), acc.Reserved.String(), "reserved of %s", acc.Trader)
		assert.True(t, acc.Reserved.LTE(acc.Total), "reserved above total for %s", acc.Trader)
	}
}

func TestSimulationViewsAgree(t *testing.T) {
	h := newHarness(t)
	ref := bots.NewPriceGenerator(100_000_000, 100_000, 7)
	manager := h.run(t, ref, 7, 300)

	requireReservations(t, h.ex)
	h.drain(t)

	assert.Equal(t, 3_000, manager.Stats().Steps)
	assert.Zero(t, manager.Stats().Rejects["unknown"])

	journaled, err := h.store.RecentTrades(market, 1<<20)
	require.NoError(t, err)
	require.NotEmpty(t, journaled)
	assert.Equal(t, h.counted.trades, len(journaled))
	assert.Equal(t, h.counted.trades, counterSum(t, h.recorder.Registry(), "marginbook_trades_total"))

	assert.Equal(t, h.counted.liquidations, h.journaledLiquidations(t))
	assert.Equal(t, h.counted.liquidations, counterSum(t, h.recorder.Registry(), "marginbook_liquidations_total"))

	// the taker fees of the run end up in the pool
	assert.False(t, h.ex.Stats().FeePool.IsZero())
	t.Logf("%d trades, %d liquidations", h.counted.trades, h.counted.liquidations)
}

func TestCrashKeepsBooksConsistent(t *testing.T) {
	h := newHarness(t)
	ref := bots.NewPriceGenerator(100_000_000, 200_000, 11)
	// two percent of the start price per round takes the reference to the
	// floor well before the end of the run
	ref.SetDrift(-2_000_000)
	h.run(t, ref, 11, 120)

	requireReservations(t, h.ex)

	// a final sweep leaves no position below maintenance
	keeper := bots.NewKeeper("sweeper", market, time.Second, h.ex, logging.NewTestLogger())
	require.NoError(t, keeper.Step(context.Background()))
	for _, acc := range h.ex.Accounts() {
		health, err := h.ex.Health(acc.Trader, market)
		if err != nil {
			continue
		}
		assert.False(t, health.Liquidatable, "%s left unhealthy", acc.Trader)
	}
	requireReservations(t, h.ex)
	h.drain(t)

	assert.Equal(t, h.counted.liquidations, h.journaledLiquidations(t))
	assert.Equal(t, h.counted.liquidations, counterSum(t, h.recorder.Registry(), "marginbook_liquidations_total"))
	t.Logf("%d trades, %d liquidations, insurance fund %s, bad debt %s",
		h.counted.trades, h.counted.liquidations,
		num.QuoteDecimal(h.ex.Stats().InsuranceFund), num.QuoteDecimal(h.ex.Stats().BadDebt))
}
