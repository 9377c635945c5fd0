// Package metrics exports exchange activity to Prometheus. A Recorder
// consumes the event stream of the broker; the exchange itself does not
// know about it.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginbook/internal/events"
	"marginbook/internal/num"
)

const namespace = "marginbook"

type Recorder struct {
	registry *prometheus.Registry

	orders       *prometheus.CounterVec
	rejects      *prometheus.CounterVec
	trades       *prometheus.CounterVec
	volume       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	badDebt      *prometheus.CounterVec
	markPrice    *prometheus.GaugeVec
	dropped      prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders by market and lifecycle status.",
		}, []string{"market", "status"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejects_total",
			Help:      "Rejected orders by market and error kind.",
		}, []string{"market", "kind"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades by market.",
		}, []string{"market"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_total",
			Help:      "Traded notional in quote units.",
		}, []string{"market"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Forced position closes by market.",
		}, []string{"market"}),
		badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_debt_total",
			Help:      "Losses no collateral could cover, in quote units.",
		}, []string{"market"}),
		markPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mark_price",
			Help:      "Last published mark price.",
		}, []string{"market", "source"}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events the metrics subscription could not keep up with.",
		}),
	}
	r.registry.MustRegister(
		r.orders, r.rejects, r.trades, r.volume,
		r.liquidations, r.badDebt, r.markPrice, r.dropped,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Observe updates the instruments for one event.
func (r *Recorder) Observe(e events.Event) {
	switch evt := e.(type) {
	case *events.Order:
		r.orders.WithLabelValues(evt.MarketID(), string(evt.Status)).Inc()
		if evt.Status == events.OrderRejected {
			r.rejects.WithLabelValues(evt.MarketID(), evt.ErrorKind).Inc()
		}
	case *events.Trade:
		r.trades.WithLabelValues(evt.MarketID()).Inc()
		notional := num.Notional(evt.Trade.Size, evt.Trade.Price)
		r.volume.WithLabelValues(evt.MarketID()).Add(quoteFloat(notional))
	case *events.Liquidation:
		r.liquidations.WithLabelValues(evt.MarketID()).Inc()
		if evt.Outcome.BadDebt != nil && !evt.Outcome.BadDebt.IsZero() {
			r.badDebt.WithLabelValues(evt.MarketID()).Add(quoteFloat(evt.Outcome.BadDebt))
		}
	case *events.MarkPrice:
		r.markPrice.DeletePartialMatch(prometheus.Labels{"market": evt.MarketID()})
		r.markPrice.WithLabelValues(evt.MarketID(), string(evt.Source)).Set(num.PriceDecimal(evt.Price).InexactFloat64())
	}
}

// Run observes sub until ctx is done or the subscription is closed.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			r.Observe(e)
			r.dropped.Set(float64(sub.Dropped()))
		}
	}
}

func quoteFloat(u *num.Uint) float64 {
	return num.QuoteDecimal(u).InexactFloat64()
}
