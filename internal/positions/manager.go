package positions

import (
	"sort"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Manager stores the positions of one market. Positions are only changed
// through a Batch. A Manager is not safe for concurrent use; its market
// serialises access.
type Manager struct {
	marketID  string
	positions map[string]*types.Position
}

func NewManager(marketID string) *Manager {
	return &Manager{marketID: marketID, positions: make(map[string]*types.Position)}
}

func (m *Manager) empty(trader string) types.Position {
	return types.Position{
		Trader:       trader,
		MarketID:     m.marketID,
		Size:         num.IntZero(),
		LockedMargin: num.UintZero(),
		RealizedPnL:  num.IntZero(),
	}
}

// Get returns a copy of the trader's position record. A closed position is
// still returned so its realized P&L stays visible.
func (m *Manager) Get(trader string) (*types.Position, bool) {
	p, ok := m.positions[trader]
	if !ok {
		return nil, false
	}
	c := p.Clone()
	return &c, true
}

// Current returns the trader's position, or a flat one.
func (m *Manager) Current(trader string) types.Position {
	if p, ok := m.positions[trader]; ok {
		return p.Clone()
	}
	return m.empty(trader)
}

// Active returns copies of every open position, ordered by trader.
func (m *Manager) Active() []*types.Position {
	out := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.IsActive() {
			c := p.Clone()
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trader < out[j].Trader })
	return out
}

// Interest returns the summed long and short sizes. Trades keep them equal;
// a liquidation closes one side at the mark with no counterparty, after
// which they differ.
func (m *Manager) Interest() (long, short *num.Uint) {
	long, short = num.UintZero(), num.UintZero()
	for _, p := range m.positions {
		switch {
		case p.Size.IsPositive():
			long.Add(long, p.Size.U)
		case p.Size.IsNegative():
			short.Add(short, p.Size.U)
		}
	}
	return long, short
}

// OpenInterest is the summed long size.
func (m *Manager) OpenInterest() *num.Uint {
	long, _ := m.Interest()
	return long
}

// Batch stages netting results on copies of the touched positions.
type Batch struct {
	m      *Manager
	staged map[string]*types.Position
	order  []string
}

func (m *Manager) Batch() *Batch {
	return &Batch{m: m, staged: make(map[string]*types.Position)}
}

func (b *Batch) position(trader string) *types.Position {
	if p, ok := b.staged[trader]; ok {
		return p
	}
	p := b.m.Current(trader)
	b.staged[trader] = &p
	b.order = append(b.order, trader)
	return &p
}

// Position returns the staged view of the trader's position.
func (b *Batch) Position(trader string) types.Position {
	return b.position(trader).Clone()
}

// Apply nets a signed fill into the staged position.
func (b *Batch) Apply(trader string, delta *num.Int, price uint64) Result {
	p := b.position(trader)
	res := Net(*p, delta, price)
	*p = res.Position.Clone()
	return res
}

// Traders lists the staged traders in the order they were first touched.
func (b *Batch) Traders() []string {
	return append([]string(nil), b.order...)
}

// Commit writes every staged position back to the manager.
func (b *Batch) Commit() {
	for _, trader := range b.order {
		p := b.staged[trader].Clone()
		b.m.positions[trader] = &p
	}
}
