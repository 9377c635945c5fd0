package metrics_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginbook/internal/events"
	"marginbook/internal/markprice"
	"marginbook/internal/metrics"
	"marginbook/internal/num"
	"marginbook/internal/orderbook"
	"marginbook/internal/types"
)

var ts = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestObserve(t *testing.T) {
	r := metrics.New()
	o := &orderbook.Order{MarketID: "BTC-USD", Trader: "alice"}

	r.Observe(events.NewOrder(o, events.OrderPlaced, ts))
	r.Observe(events.NewRejectedOrder(o, types.ErrInsufficientMargin, ts))
	r.Observe(events.NewTrade(types.Trade{MarketID: "BTC-USD", Price: 2_000_000, Size: num.Units(3), Timestamp: ts}))
	r.Observe(events.NewLiquidation(types.LiquidationOutcome{MarketID: "BTC-USD", BadDebt: num.Quote(7), Timestamp: ts}))
	r.Observe(events.NewMarkPrice("BTC-USD", 2_500_000, markprice.SourceVWAP, ts))
	r.Observe(events.NewMarkPrice("BTC-USD", 2_000_000, markprice.SourceMid, ts))

	n, err := testutil.GatherAndCount(r.Registry(), "marginbook_orders_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expected := `
# HELP marginbook_order_rejects_total Rejected orders by market and error kind.
# TYPE marginbook_order_rejects_total counter
marginbook_order_rejects_total{kind="margin",market="BTC-USD"} 1
# HELP marginbook_trades_total Executed trades by market.
# TYPE marginbook_trades_total counter
marginbook_trades_total{market="BTC-USD"} 1
# HELP marginbook_traded_notional_total Traded notional in quote units.
# TYPE marginbook_traded_notional_total counter
marginbook_traded_notional_total{market="BTC-USD"} 6
# HELP marginbook_bad_debt_total Losses no collateral could cover, in quote units.
# TYPE marginbook_bad_debt_total counter
marginbook_bad_debt_total{market="BTC-USD"} 7
# HELP marginbook_mark_price Last published mark price.
# TYPE marginbook_mark_price gauge
marginbook_mark_price{market="BTC-USD",source="mid"} 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"marginbook_order_rejects_total", "marginbook_trades_total",
		"marginbook_traded_notional_total", "marginbook_bad_debt_total", "marginbook_mark_price"))
}

func TestRunConsumesSubscription(t *testing.T) {
	r := metrics.New()
	b := events.NewBroker()
	sub := b.Subscribe(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, sub)
		close(done)
	}()

	b.Send(events.NewRejectedOrder(&orderbook.Order{MarketID: "BTC-USD"}, errors.New("boom"), ts))
	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(r.Registry(), "marginbook_order_rejects_total")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `marginbook_order_rejects_total{kind="unknown",market="BTC-USD"} 1`)
}
