// Package markprice derives the reference price used for margin and
// liquidation from the trade history and the top of book.
package markprice

import (
	"time"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Source names the rule of the hierarchy that produced a mark price.
type Source string

const (
	SourceVWAP      Source = "vwap"
	SourceMid       Source = "mid"
	SourceLastTrade Source = "last_trade"
	SourceBestBid   Source = "best_bid"
	SourceBestAsk   Source = "best_ask"
	SourceDefault   Source = "default"
)

// StandardWindows are the observability windows of MultiWindow.
var StandardWindows = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

type Config struct {
	UseVWAP          bool
	VWAPWindow       time.Duration
	MinVolumeForVWAP *num.Uint
	// DefaultPrice is returned when there is neither a book nor a trade.
	DefaultPrice uint64
}

func DefaultConfig() Config {
	return Config{
		UseVWAP:          true,
		VWAPWindow:       5 * time.Minute,
		MinVolumeForVWAP: num.Units(1),
		DefaultPrice:     num.QuoteOne().Uint64(),
	}
}

// Book is the top of book view the oracle needs.
type Book interface {
	BestBid() (uint64, bool)
	BestAsk() (uint64, bool)
}

// Trades is the trade history view the oracle needs.
type Trades interface {
	Backward(fn func(types.Trade) bool)
	Last() (types.Trade, bool)
}

type Oracle struct {
	cfg    Config
	book   Book
	trades Trades
	now    func() time.Time
}

func New(cfg Config, book Book, trades Trades, now func() time.Time) *Oracle {
	if cfg.MinVolumeForVWAP == nil {
		cfg.MinVolumeForVWAP = num.UintZero()
	}
	if cfg.DefaultPrice == 0 {
		cfg.DefaultPrice = num.QuoteOne().Uint64()
	}
	if now == nil {
		now = time.Now
	}
	return &Oracle{cfg: cfg, book: book, trades: trades, now: now}
}

func (o *Oracle) Config() Config { return o.cfg }

// MarkPrice returns the mark price following, in order: VWAP over the
// configured window when it has enough volume, the mid price, the last
// trade price (or the lone side when nothing traded yet), the default.
func (o *Oracle) MarkPrice() uint64 {
	p, _ := o.MarkPriceWithSource()
	return p
}

// MarkPriceWithSource is MarkPrice plus the rule that produced it.
func (o *Oracle) MarkPriceWithSource() (uint64, Source) {
	if o.cfg.UseVWAP {
		w := o.VWAP(o.cfg.VWAPWindow)
		if w.OK && w.Volume.GTE(o.cfg.MinVolumeForVWAP) {
			return w.Price, SourceVWAP
		}
	}

	bid, hasBid := o.book.BestBid()
	ask, hasAsk := o.book.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2, SourceMid
	case hasBid || hasAsk:
		if last, ok := o.LastTradePrice(); ok {
			return last, SourceLastTrade
		}
		if hasBid {
			return bid, SourceBestBid
		}
		return ask, SourceBestAsk
	}

	// nothing on the book: a previous trade still beats the default
	if last, ok := o.LastTradePrice(); ok {
		return last, SourceLastTrade
	}
	return o.cfg.DefaultPrice, SourceDefault
}

// LastTradePrice returns the price of the most recent trade.
func (o *Oracle) LastTradePrice() (uint64, bool) {
	t, ok := o.trades.Last()
	if !ok {
		return 0, false
	}
	return t.Price, true
}

// Window is the VWAP over one trailing window.
type Window struct {
	Window time.Duration `json:"window"`
	Price  uint64        `json:"price"`
	Volume *num.Uint     `json:"volume"`
	Trades int           `json:"trades"`
	OK     bool          `json:"ok"`
}

// VWAP computes sum(price*size)/sum(size) over trades with
// timestamp >= now - window. Only trades inside the window are visited.
func (o *Oracle) VWAP(window time.Duration) Window {
	cutoff := o.now().Add(-window)
	notional := num.UintZero()
	volume := num.UintZero()
	count := 0

	o.trades.Backward(func(t types.Trade) bool {
		if t.Timestamp.Before(cutoff) {
			return false
		}
		notional.Add(notional, num.NewUint(0).Mul(t.Size, num.NewUint(t.Price)))
		volume.Add(volume, t.Size)
		count++
		return true
	})

	w := Window{Window: window, Volume: volume, Trades: count}
	if volume.IsZero() {
		return w
	}
	w.Price = num.NewUint(0).Div(notional, volume).Uint64()
	w.OK = true
	return w
}

// MultiWindow computes the VWAP of each standard window independently.
func (o *Oracle) MultiWindow() []Window {
	out := make([]Window, 0, len(StandardWindows))
	for _, w := range StandardWindows {
		out = append(out, o.VWAP(w))
	}
	return out
}
