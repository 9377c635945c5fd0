package exchange

import (
	"marginbook/internal/markprice"
	"marginbook/internal/num"
	"marginbook/internal/orderbook"
	"marginbook/internal/types"
)

// checkAndLiquidate is the explicit trigger. It shares liquidate with the
// automatic scan.
func (m *Market) checkAndLiquidate(trader string) (*execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mark, src := m.oracle.MarkPriceWithSource()
	outcome, cancelled, err := m.liquidate(trader, mark)
	if err != nil {
		return nil, err
	}
	return &execution{
		liquidations: []types.LiquidationOutcome{outcome},
		cancelled:    cancelled,
		positions:    []types.Position{m.positions.Current(trader)},
		mark:         mark,
		markSource:   src,
	}, nil
}

// scan checks the next ScanLimit active traders at the current mark and
// liquidates the unhealthy ones into exec. The caller holds the write lock.
func (m *Market) scan(exec *execution) {
	mark := m.oracle.MarkPrice()
	for _, trader := range m.liq.Candidates() {
		pos := m.positions.Current(trader)
		if !pos.IsActive() {
			m.liq.Untrack(trader)
			continue
		}
		if !m.liq.IsLiquidatable(pos, mark) {
			continue
		}
		outcome, cancelled, err := m.liquidate(trader, mark)
		if err != nil {
			continue
		}
		exec.liquidations = append(exec.liquidations, outcome)
		exec.cancelled = append(exec.cancelled, cancelled...)
		exec.positions = append(exec.positions, m.positions.Current(trader))
	}
}

// liquidate force-closes the trader's position at mark. In one ledger
// transaction it releases the reservations of the trader's resting orders
// and of the position, settles the realized P&L (recording bad debt for
// what the account cannot cover) and confiscates the penalty into the
// insurance fund. Then the orders are cancelled, the position is zeroed
// and the trader leaves the active set. The caller holds the write lock.
func (m *Market) liquidate(trader string, mark uint64) (types.LiquidationOutcome, []*orderbook.Order, error) {
	pos := m.positions.Current(trader)
	if !pos.IsActive() {
		return types.LiquidationOutcome{}, nil, types.Wrapf(types.ErrPositionClosed, "trader %s in %s", trader, m.cfg.ID)
	}
	if !m.liq.IsLiquidatable(pos, mark) {
		return types.LiquidationOutcome{}, nil, types.Wrapf(types.ErrNotLiquidatable, "trader %s at mark %d", trader, mark)
	}

	plan := m.liq.PlanClose(pos, mark)
	orders := m.book.Orders(trader)

	txn := m.ledger.Begin()
	for _, o := range orders {
		txn.Release(trader, o.Reserved)
	}
	txn.Release(trader, plan.Netting.MarginBefore)
	badDebt := txn.Settle(trader, plan.Netting.Realized)
	penalty := txn.Confiscate(trader, plan.Penalty)
	txn.Commit()

	cancelled := make([]types.OrderID, 0, len(orders))
	for _, o := range orders {
		if _, err := m.book.Cancel(o.ID); err == nil {
			cancelled = append(cancelled, o.ID)
		}
	}

	batch := m.positions.Batch()
	batch.Apply(trader, pos.Size.Neg(), mark)
	batch.Commit()
	m.liq.Untrack(trader)

	return types.LiquidationOutcome{
		Trader:          trader,
		MarketID:        m.cfg.ID,
		ClosedSize:      pos.Size.Clone(),
		MarkPrice:       mark,
		RealizedPnL:     plan.Netting.Realized.Clone(),
		Penalty:         penalty,
		BadDebt:         badDebt,
		CancelledOrders: cancelled,
		Timestamp:       m.now(),
	}, orders, nil
}

// Health is the margin state of one position at the current mark price.
type Health struct {
	Position     types.Position   `json:"position"`
	MarkPrice    uint64           `json:"mark_price"`
	Source       markprice.Source `json:"mark_source"`
	Equity       *num.Int         `json:"equity"`
	Maintenance  *num.Uint        `json:"maintenance"`
	Liquidatable bool             `json:"liquidatable"`
}

func (m *Market) health(trader string) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mark, src := m.oracle.MarkPriceWithSource()
	pos := m.positions.Current(trader)
	h := m.liq.Health(pos, mark)
	return Health{
		Position:     pos,
		MarkPrice:    mark,
		Source:       src,
		Equity:       h.Equity,
		Maintenance:  h.Maintenance,
		Liquidatable: pos.IsActive() && h.Liquidatable(),
	}
}
