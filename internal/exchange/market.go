package exchange

import (
	"sync"
	"sync/atomic"
	"time"

	"marginbook/internal/history"
	"marginbook/internal/ledger"
	"marginbook/internal/liquidation"
	"marginbook/internal/markprice"
	"marginbook/internal/num"
	"marginbook/internal/orderbook"
	"marginbook/internal/positions"
	"marginbook/internal/types"
)

// sequences hands out exchange-wide order and trade ids. Ids start at 1
// and are never reused.
type sequences struct {
	order atomic.Uint64
	trade atomic.Uint64
}

func (s *sequences) nextOrder() types.OrderID { return types.OrderID(s.order.Add(1)) }

func (s *sequences) nextTrade() uint64 { return s.trade.Add(1) }

// Market is the state machine of one market. Mutations hold the write
// lock for the whole validate-then-apply step; queries hold the read lock
// and never see a partial update. The ledger lock is always taken after
// the market lock.
type Market struct {
	mu  sync.RWMutex
	cfg MarketConfig

	book      *orderbook.Book
	positions *positions.Manager
	history   *history.Ring
	oracle    *markprice.Oracle
	liq       *liquidation.Engine
	ledger    *ledger.Ledger

	ids *sequences
	now func() time.Time
}

func newMarket(cfg MarketConfig, l *ledger.Ledger, ids *sequences, now func() time.Time) *Market {
	book := orderbook.New(cfg.ID)
	ring := history.New(cfg.HistoryCapacity)
	return &Market{
		cfg:       cfg,
		book:      book,
		positions: positions.NewManager(cfg.ID),
		history:   ring,
		oracle:    markprice.New(cfg.MarkPrice, book, ring, now),
		liq:       liquidation.New(cfg.Liquidation),
		ledger:    l,
		ids:       ids,
		now:       now,
	}
}

func (m *Market) ID() string { return m.cfg.ID }

func (m *Market) Config() MarketConfig { return m.cfg }

// execution is everything one committed operation changed.
type execution struct {
	order        *orderbook.Order
	match        *orderbook.Match
	trades       []types.Trade
	positions    []types.Position
	cancelled    []*orderbook.Order
	liquidations []types.LiquidationOutcome
	mark         uint64
	markSource   markprice.Source
}

func (m *Market) validate(price uint64, size *num.Uint, side types.Side, mode types.Mode, limit bool) error {
	if !side.Valid() {
		return types.ErrInvalidSide
	}
	if !mode.Valid() {
		return types.ErrInvalidMode
	}
	if limit {
		if price == 0 {
			return types.ErrInvalidPrice
		}
		if m.cfg.TickSize > 0 && price%m.cfg.TickSize != 0 {
			return types.Wrapf(types.ErrInvalidPrice, "price %d is not a multiple of tick %d", price, m.cfg.TickSize)
		}
	}
	if size == nil || size.IsZero() {
		return types.ErrInvalidSize
	}
	if size.GT(num.MaxSize) {
		return types.Wrapf(types.ErrInvalidSize, "size %s is above the maximum %s", size, num.MaxSize)
	}
	if m.cfg.MinSize != nil && size.LT(m.cfg.MinSize) {
		return types.Wrapf(types.ErrInvalidSize, "size %s is below the minimum %s", size, m.cfg.MinSize)
	}
	if mode == types.Spot && m.cfg.MarginOnly {
		return types.ErrSpotTradingBlocked
	}
	return nil
}

func (m *Market) newOrder(trader string, typ types.OrderType, price uint64, size *num.Uint, side types.Side, mode types.Mode) *orderbook.Order {
	return &orderbook.Order{
		ID:        m.ids.nextOrder(),
		Trader:    trader,
		MarketID:  m.cfg.ID,
		Side:      side,
		Type:      typ,
		Mode:      mode,
		Price:     price,
		Size:      size.Clone(),
		Remaining: size.Clone(),
		Reserved:  num.UintZero(),
		Timestamp: m.now(),
	}
}

// placeLimit matches a limit order and rests its remainder.
func (m *Market) placeLimit(trader string, price uint64, size *num.Uint, side types.Side, mode types.Mode) (*execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(price, size, side, mode, true); err != nil {
		return nil, err
	}
	match, err := m.book.Plan(m.newOrder(trader, types.Limit, price, size, side, mode), nil)
	if err != nil {
		return nil, err
	}
	return m.executeAndScan(match)
}

// placeMarket matches a margin market order; its unfilled remainder is
// dropped.
func (m *Market) placeMarket(trader string, size *num.Uint, side types.Side, maxSlippageBps *uint16) (*execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(0, size, side, types.Margin, false); err != nil {
		return nil, err
	}
	match, err := m.book.Plan(m.newOrder(trader, types.Market, 0, size, side, types.Margin), maxSlippageBps)
	if err != nil {
		return nil, err
	}
	return m.executeAndScan(match)
}

func (m *Market) executeAndScan(match *orderbook.Match) (*execution, error) {
	exec, err := m.execute(match)
	if err != nil {
		return nil, err
	}
	if len(exec.trades) > 0 {
		m.scan(exec)
	}
	exec.mark, exec.markSource = m.oracle.MarkPriceWithSource()
	return exec, nil
}

// execute validates the collateral side of a planned match on a staged
// ledger transaction and staged positions, then commits ledger, positions
// and book together. On error nothing is changed.
func (m *Market) execute(match *orderbook.Match) (*execution, error) {
	taker := match.Taker
	now := m.now()

	txn := m.ledger.Begin()
	batch := m.positions.Batch()
	trades := make([]types.Trade, 0, len(match.Fills))

	for i := range match.Fills {
		f := &match.Fills[i]
		maker := f.Maker
		fees := m.cfg.Fees.ForTrade(f.Size, f.Price, taker.Side)
		trade := newTrade(m.cfg.ID, taker, maker, *f, now)

		if maker.Mode == types.Margin {
			txn.Release(maker.Trader, f.MakerRelease)
			lock, err := m.settleFill(txn, batch, maker.Trader, maker.Side, f.Size, f.Price, false)
			if err != nil {
				txn.Rollback()
				return nil, err
			}
			drawRoundingGap(txn, f, lock)
			if err := txn.Reserve(maker.Trader, lock); err != nil {
				txn.Rollback()
				return nil, err
			}
			setFee(&trade, maker.Side, txn.CollectFee(maker.Trader, fees.Maker))
		}
		if taker.Mode == types.Margin {
			lock, err := m.settleFill(txn, batch, taker.Trader, taker.Side, f.Size, f.Price, true)
			if err != nil {
				txn.Rollback()
				return nil, err
			}
			if err := txn.Reserve(taker.Trader, lock); err != nil {
				txn.Rollback()
				return nil, err
			}
			if err := txn.ChargeFee(taker.Trader, fees.Taker); err != nil {
				txn.Rollback()
				return nil, err
			}
			setFee(&trade, taker.Side, fees.Taker)
		}
		trades = append(trades, trade)
	}

	if match.Rests() && taker.Mode == types.Margin {
		reserve := num.NotionalCeil(taker.Remaining, taker.Price)
		if err := txn.Reserve(taker.Trader, reserve); err != nil {
			txn.Rollback()
			return nil, err
		}
		taker.Reserved = reserve
	}

	txn.Commit()
	batch.Commit()
	m.book.Commit(match)

	for i := range trades {
		trades[i].ID = m.ids.nextTrade()
		m.history.Append(trades[i])
	}

	exec := &execution{order: taker, match: match, trades: trades}
	for _, trader := range batch.Traders() {
		pos := m.positions.Current(trader)
		m.liq.Track(pos)
		exec.positions = append(exec.positions, pos)
	}
	return exec, nil
}

// settleFill nets one side of a fill into the trader's staged position:
// the old locked margin is released and realized P&L settled. It returns
// the new locked margin, which the caller reserves. A taker whose realized
// loss exceeds its collateral is rejected; a resting order's loss beyond
// collateral becomes bad debt.
func (m *Market) settleFill(txn *ledger.Txn, batch *positions.Batch, trader string, side types.Side, size *num.Uint, price uint64, taker bool) (*num.Uint, error) {
	res := batch.Apply(trader, num.IntFromUint(size, side == types.Buy), price)

	txn.Release(trader, res.MarginBefore)
	short := txn.Settle(trader, res.Realized)
	if taker && !short.IsZero() {
		return nil, types.Wrapf(types.ErrInsufficientMargin, "trader %s cannot cover a realized loss of %s", trader, res.Realized)
	}
	return res.MarginAfter, nil
}

// drawRoundingGap covers a maker's lock that exceeds its available
// collateral out of the reservation its order keeps. The order reserves
// ceil(remaining * price) while positions lock floor(size * entry), so the
// gap is rounding dust the order already holds. The fill's release grows
// by what is drawn.
func drawRoundingGap(txn *ledger.Txn, f *orderbook.Fill, lock *num.Uint) {
	avail := txn.Account(f.Maker.Trader).Available()
	if !avail.LT(lock) {
		return
	}
	gap := num.NewUint(0).Sub(lock, avail)
	kept := num.NewUint(0).Sub(f.Maker.Reserved, f.MakerRelease)
	gap = num.Min(gap, kept).Clone()
	if gap.IsZero() {
		return
	}
	txn.Release(f.Maker.Trader, gap)
	f.MakerRelease = num.Sum(f.MakerRelease, gap)
}

func newTrade(market string, taker, maker *orderbook.Order, f orderbook.Fill, now time.Time) types.Trade {
	t := types.Trade{
		MarketID:  market,
		Price:     f.Price,
		Size:      f.Size.Clone(),
		BuyerFee:  num.UintZero(),
		SellerFee: num.UintZero(),
		Aggressor: taker.Side,
		Timestamp: now,
	}
	buy, sell := taker, maker
	if taker.Side == types.Sell {
		buy, sell = maker, taker
	}
	t.BuyOrderID, t.BuyerID = buy.ID, buy.Trader
	t.SellOrderID, t.SellerID = sell.ID, sell.Trader
	return t
}

func setFee(t *types.Trade, side types.Side, fee *num.Uint) {
	if side == types.Buy {
		t.BuyerFee = fee.Clone()
		return
	}
	t.SellerFee = fee.Clone()
}

func (m *Market) cancel(trader string, id types.OrderID) (*orderbook.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.book.Order(id)
	if !ok {
		return nil, types.Wrapf(types.ErrOrderNotFound, "order %d", id)
	}
	if o.Trader != trader {
		return nil, types.Wrapf(types.ErrNotOrderOwner, "order %d", id)
	}

	txn := m.ledger.Begin()
	txn.Release(trader, o.Reserved)
	txn.Commit()

	return m.book.Cancel(id)
}

// hasOrder reports whether id rests in this market.
func (m *Market) hasOrder(id types.OrderID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.book.Order(id)
	return ok
}

func (m *Market) Depth(levels int) types.Depth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Depth(levels)
}

func (m *Market) MarkPrice() (uint64, markprice.Source) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oracle.MarkPriceWithSource()
}

func (m *Market) VWAPWindows() []markprice.Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oracle.MultiWindow()
}

// Position returns the trader's position record, closed ones included.
func (m *Market) Position(trader string) (*types.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions.Get(trader)
}

// Positions returns every open position.
func (m *Market) Positions() []*types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions.Active()
}

func (m *Market) Orders(trader string) []*orderbook.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Orders(trader)
}

// RecentTrades returns up to n trades, oldest first.
func (m *Market) RecentTrades(n int) []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Recent(n)
}

func (m *Market) BestBidAsk() (bid uint64, hasBid bool, ask uint64, hasAsk bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bid, hasBid = m.book.BestBid()
	ask, hasAsk = m.book.BestAsk()
	return
}

// OpenInterest is the total long size in the market.
func (m *Market) OpenInterest() *num.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions.OpenInterest()
}

// Interest returns the total long and short sizes in the market.
func (m *Market) Interest() (long, short *num.Uint) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions.Interest()
}
