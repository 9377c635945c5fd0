// Package exchange is the entry point of the margin engine. It owns the
// collateral ledger and one Market per instrument, turns every committed
// operation into events and logs what it accepts and rejects.
package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"marginbook/internal/events"
	"marginbook/internal/ledger"
	"marginbook/internal/logging"
	"marginbook/internal/markprice"
	"marginbook/internal/num"
	"marginbook/internal/orderbook"
	"marginbook/internal/types"
)

const namedLogger = "exchange"

// OrderResult is the outcome of an accepted limit order.
type OrderResult struct {
	OrderID      types.OrderID              `json:"order_id"`
	Filled       *num.Uint                  `json:"filled"`
	Remaining    *num.Uint                  `json:"remaining"`
	Resting      bool                       `json:"resting"`
	Reserved     *num.Uint                  `json:"reserved"`
	Trades       []types.Trade              `json:"trades"`
	Liquidations []types.LiquidationOutcome `json:"liquidations,omitempty"`
}

// MarketResult is the outcome of an accepted market order.
type MarketResult struct {
	OrderID      types.OrderID              `json:"order_id"`
	Filled       *num.Uint                  `json:"filled"`
	AvgPrice     uint64                     `json:"avg_price"`
	Trades       []types.Trade              `json:"trades"`
	Liquidations []types.LiquidationOutcome `json:"liquidations,omitempty"`
}

// Stats are the exchange-wide collateral pools.
type Stats struct {
	InsuranceFund *num.Uint `json:"insurance_fund"`
	FeePool       *num.Uint `json:"fee_pool"`
	BadDebt       *num.Uint `json:"bad_debt"`
}

type Exchange struct {
	log    *logging.Logger
	ledger *ledger.Ledger
	broker *events.Broker
	now    func() time.Time
	ids    *sequences

	mu      sync.RWMutex
	markets map[string]*Market
}

type Option func(*Exchange)

func WithLogger(log *logging.Logger) Option {
	return func(e *Exchange) { e.log = log }
}

func WithBroker(b *events.Broker) Option {
	return func(e *Exchange) { e.broker = b }
}

// WithClock injects the time source used for orders, trades and VWAP.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func New(opts ...Option) *Exchange {
	e := &Exchange{
		ledger:  ledger.New(),
		now:     time.Now,
		ids:     &sequences{},
		markets: make(map[string]*Market),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.NewTestLogger()
	}
	if e.broker == nil {
		e.broker = events.NewBroker()
	}
	e.log = e.log.Named(namedLogger)
	return e
}

func (e *Exchange) Broker() *events.Broker { return e.broker }

// AddMarket registers a market. Market ids are unique.
func (e *Exchange) AddMarket(cfg MarketConfig) (*Market, error) {
	if cfg.ID == "" {
		return nil, types.ErrInvalidMarket
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.markets[cfg.ID]; ok {
		return nil, types.Wrapf(types.ErrMarketExists, "market %s", cfg.ID)
	}
	m := newMarket(cfg, e.ledger, e.ids, e.now)
	e.markets[cfg.ID] = m
	e.log.Info("market added",
		logging.MarketID(cfg.ID),
		logging.Bool("margin_only", cfg.MarginOnly),
		logging.Uint64("maintenance_bps", cfg.Liquidation.MaintenanceMarginBps),
	)
	return m, nil
}

func (e *Exchange) Market(id string) (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[id]
	if !ok {
		return nil, types.Wrapf(types.ErrMarketNotFound, "market %s", id)
	}
	return m, nil
}

// Markets returns the market ids in order.
func (e *Exchange) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Exchange) PlaceLimitOrder(ctx context.Context, trader, market string, price uint64, size *num.Uint, side types.Side, mode types.Mode) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := e.Market(market)
	if err != nil {
		return nil, err
	}
	exec, err := m.placeLimit(trader, price, size, side, mode)
	if err != nil {
		e.reject(trader, market, types.Limit, price, size, side, mode, err)
		return nil, err
	}

	o := exec.order
	res := &OrderResult{
		OrderID:      o.ID,
		Filled:       exec.match.Filled.Clone(),
		Remaining:    o.Remaining.Clone(),
		Resting:      exec.match.Rests(),
		Reserved:     o.Reserved.Clone(),
		Trades:       exec.trades,
		Liquidations: exec.liquidations,
	}
	e.log.Debug("limit order accepted",
		logging.Trader(trader),
		logging.MarketID(market),
		logging.OrderID(uint64(o.ID)),
		logging.String("side", side.String()),
		logging.Uint64("price", price),
		logging.Stringer("size", size),
		logging.Int("trades", len(exec.trades)),
		logging.Bool("resting", res.Resting),
	)
	e.publish(market, exec)
	return res, nil
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, trader, market string, size *num.Uint, side types.Side, maxSlippageBps *uint16) (*MarketResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := e.Market(market)
	if err != nil {
		return nil, err
	}
	exec, err := m.placeMarket(trader, size, side, maxSlippageBps)
	if err != nil {
		e.reject(trader, market, types.Market, 0, size, side, types.Margin, err)
		return nil, err
	}

	res := &MarketResult{
		OrderID:      exec.order.ID,
		Filled:       exec.match.Filled.Clone(),
		AvgPrice:     exec.match.AvgPrice(),
		Trades:       exec.trades,
		Liquidations: exec.liquidations,
	}
	e.log.Debug("market order accepted",
		logging.Trader(trader),
		logging.MarketID(market),
		logging.OrderID(uint64(exec.order.ID)),
		logging.String("side", side.String()),
		logging.Stringer("filled", res.Filled),
		logging.Uint64("avg_price", res.AvgPrice),
	)
	e.publish(market, exec)
	return res, nil
}

// CancelOrder cancels a resting order of trader in whichever market holds it.
func (e *Exchange) CancelOrder(ctx context.Context, trader string, id types.OrderID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, mid := range e.Markets() {
		m, err := e.Market(mid)
		if err != nil || !m.hasOrder(id) {
			continue
		}
		o, err := m.cancel(trader, id)
		if err != nil {
			e.log.Debug("cancel rejected", logging.Trader(trader), logging.OrderID(uint64(id)), logging.Error(err))
			return err
		}
		e.log.Debug("order cancelled", logging.Trader(trader), logging.MarketID(mid), logging.OrderID(uint64(id)))
		e.broker.Send(events.NewOrder(o, events.OrderCancelled, e.now()))
		e.publishAccounts(trader)
		return nil
	}
	return types.Wrapf(types.ErrOrderNotFound, "order %d", id)
}

// CheckAndLiquidate force-closes the trader's position in market if it is
// under-margined at the current mark price.
func (e *Exchange) CheckAndLiquidate(ctx context.Context, trader, market string) (types.LiquidationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return types.LiquidationOutcome{}, err
	}
	m, err := e.Market(market)
	if err != nil {
		return types.LiquidationOutcome{}, err
	}
	exec, err := m.checkAndLiquidate(trader)
	if err != nil {
		e.log.Debug("liquidation refused", logging.Trader(trader), logging.MarketID(market), logging.Error(err))
		return types.LiquidationOutcome{}, err
	}
	e.publish(market, exec)
	return exec.liquidations[0], nil
}

// Health returns the margin state of the trader's position in market.
func (e *Exchange) Health(trader, market string) (Health, error) {
	m, err := e.Market(market)
	if err != nil {
		return Health{}, err
	}
	return m.health(trader), nil
}

func (e *Exchange) Depth(market string, levels int) (types.Depth, error) {
	m, err := e.Market(market)
	if err != nil {
		return types.Depth{}, err
	}
	return m.Depth(levels), nil
}

func (e *Exchange) MarkPrice(market string) (uint64, error) {
	p, _, err := e.MarkPriceWithSource(market)
	return p, err
}

func (e *Exchange) MarkPriceWithSource(market string) (uint64, markprice.Source, error) {
	m, err := e.Market(market)
	if err != nil {
		return 0, "", err
	}
	p, src := m.MarkPrice()
	return p, src, nil
}

func (e *Exchange) VWAPWindows(market string) ([]markprice.Window, error) {
	m, err := e.Market(market)
	if err != nil {
		return nil, err
	}
	return m.VWAPWindows(), nil
}

// Position returns the trader's position in market. ok is false when the
// trader never held one.
func (e *Exchange) Position(trader, market string) (*types.Position, bool, error) {
	m, err := e.Market(market)
	if err != nil {
		return nil, false, err
	}
	p, ok := m.Position(trader)
	return p, ok, nil
}

func (e *Exchange) Orders(trader, market string) ([]*orderbook.Order, error) {
	m, err := e.Market(market)
	if err != nil {
		return nil, err
	}
	return m.Orders(trader), nil
}

func (e *Exchange) RecentTrades(market string, n int) ([]types.Trade, error) {
	m, err := e.Market(market)
	if err != nil {
		return nil, err
	}
	return m.RecentTrades(n), nil
}

func (e *Exchange) Deposit(ctx context.Context, trader string, amount *num.Uint) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	acc, err := e.ledger.Deposit(trader, amount)
	if err != nil {
		return acc, err
	}
	e.log.Debug("deposit", logging.Trader(trader), logging.Stringer("amount", amount))
	e.broker.Send(events.NewAccount(acc, e.now()))
	return acc, nil
}

func (e *Exchange) Withdraw(ctx context.Context, trader string, amount *num.Uint) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	acc, err := e.ledger.Withdraw(trader, amount)
	if err != nil {
		e.log.Debug("withdrawal rejected", logging.Trader(trader), logging.Error(err))
		return acc, err
	}
	e.log.Debug("withdrawal", logging.Trader(trader), logging.Stringer("amount", amount))
	e.broker.Send(events.NewAccount(acc, e.now()))
	return acc, nil
}

func (e *Exchange) Account(trader string) (ledger.Account, bool) {
	return e.ledger.Account(trader)
}

func (e *Exchange) Accounts() []ledger.Account {
	return e.ledger.Accounts()
}

func (e *Exchange) Stats() Stats {
	return Stats{
		InsuranceFund: e.ledger.InsuranceFund(),
		FeePool:       e.ledger.FeePool(),
		BadDebt:       e.ledger.BadDebt(),
	}
}

func (e *Exchange) reject(trader, market string, typ types.OrderType, price uint64, size *num.Uint, side types.Side, mode types.Mode, err error) {
	e.log.Debug("order rejected",
		logging.Trader(trader),
		logging.MarketID(market),
		logging.String("type", typ.String()),
		logging.String("kind", types.KindOf(err).String()),
		logging.Error(err),
	)
	o := &orderbook.Order{
		Trader:   trader,
		MarketID: market,
		Side:     side,
		Type:     typ,
		Mode:     mode,
		Price:    price,
		Size:     size,
	}
	e.broker.Send(events.NewRejectedOrder(o, err, e.now()))
}

// publish emits the events of a committed execution, after the market
// lock is released.
func (e *Exchange) publish(market string, exec *execution) {
	now := e.now()
	evts := make([]events.Event, 0, 2+len(exec.trades)+len(exec.positions)+len(exec.liquidations)+len(exec.cancelled))

	if exec.order != nil {
		status := events.OrderPlaced
		if exec.order.IsFilled() || exec.order.Type == types.Market {
			status = events.OrderFilled
		}
		evts = append(evts, events.NewOrder(exec.order, status, now))
	}
	traders := map[string]struct{}{}
	for _, t := range exec.trades {
		evts = append(evts, events.NewTrade(t))
		traders[t.BuyerID] = struct{}{}
		traders[t.SellerID] = struct{}{}
	}
	for _, p := range exec.positions {
		evts = append(evts, events.NewPosition(p, now))
		traders[p.Trader] = struct{}{}
	}
	for _, o := range exec.cancelled {
		evts = append(evts, events.NewOrder(o, events.OrderCancelled, now))
	}
	for _, l := range exec.liquidations {
		e.log.Info("position liquidated",
			logging.Trader(l.Trader),
			logging.MarketID(l.MarketID),
			logging.Stringer("size", l.ClosedSize),
			logging.Uint64("mark_price", l.MarkPrice),
			logging.Stringer("penalty", l.Penalty),
			logging.Stringer("bad_debt", l.BadDebt),
		)
		evts = append(evts, events.NewLiquidation(l))
		traders[l.Trader] = struct{}{}
	}
	if exec.order != nil && exec.order.Mode == types.Margin {
		traders[exec.order.Trader] = struct{}{}
	}
	if len(exec.trades) > 0 || len(exec.liquidations) > 0 {
		evts = append(evts, events.NewMarkPrice(market, exec.mark, exec.markSource, now))
	}
	e.broker.Send(evts...)

	names := make([]string, 0, len(traders))
	for t := range traders {
		names = append(names, t)
	}
	sort.Strings(names)
	e.publishAccounts(names...)
}

func (e *Exchange) publishAccounts(traders ...string) {
	now := e.now()
	for _, t := range traders {
		if acc, ok := e.ledger.Account(t); ok {
			e.broker.Send(events.NewAccount(acc, now))
		}
	}
}
