package positions_test

import (
	"testing"

	"marginbook/internal/num"
	"marginbook/internal/positions"
	"marginbook/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dollars(d uint64) uint64 { return d * 1_000_000 }

func units(n int64) *num.Int {
	if n < 0 {
		return num.IntFromUint(num.Units(uint64(-n)), false)
	}
	return num.IntFromUint(num.Units(uint64(n)), true)
}

func flat() types.Position {
	return types.Position{Trader: "alice", MarketID: "ETH-USD"}.Clone()
}

func requireMarginInvariant(t *testing.T, p types.Position) {
	t.Helper()
	want := num.Notional(p.Size.Abs(), p.AvgEntryPrice)
	require.Equal(t, want.String(), p.LockedMargin.String(), "locked margin must equal |size| * avg entry")
}

func TestNetOpenLong(t *testing.T) {
	res := positions.Net(flat(), units(100), dollars(100))
	assert.Equal(t, positions.Increase, res.Kind)
	assert.Equal(t, units(100).String(), res.Position.Size.String())
	assert.Equal(t, dollars(100), res.Position.AvgEntryPrice)
	assert.Equal(t, num.Quote(10_000).String(), res.MarginAfter.String())
	assert.True(t, res.MarginBefore.IsZero())
	assert.True(t, res.Realized.IsZero())
	requireMarginInvariant(t, res.Position)
}

func TestNetAddToLongAveragesEntry(t *testing.T) {
	first := positions.Net(flat(), units(100), dollars(100))
	res := positions.Net(first.Position, units(100), dollars(110))

	assert.Equal(t, positions.Increase, res.Kind)
	assert.Equal(t, units(200).String(), res.Position.Size.String())
	assert.Equal(t, dollars(105), res.Position.AvgEntryPrice)
	assert.Equal(t, num.Quote(11_000).String(), res.MarginDelta().String())
	requireMarginInvariant(t, res.Position)
}

func TestNetPartialClose(t *testing.T) {
	open := positions.Net(flat(), units(100), dollars(100))
	res := positions.Net(open.Position, units(-50), dollars(120))

	assert.Equal(t, positions.Reduce, res.Kind)
	assert.Equal(t, num.NewInt(1_000_000_000).String(), res.Realized.String()) // 50 * 20
	assert.Equal(t, units(50).String(), res.Position.Size.String())
	assert.Equal(t, dollars(100), res.Position.AvgEntryPrice, "entry is unchanged on reduce")
	assert.Equal(t, num.Quote(5_000).String(), res.MarginAfter.String())
	requireMarginInvariant(t, res.Position)
}

func TestNetCloseLongWithLoss(t *testing.T) {
	open := positions.Net(flat(), units(10), dollars(100))
	res := positions.Net(open.Position, units(-10), dollars(90))

	assert.Equal(t, positions.Close, res.Kind)
	assert.Equal(t, num.IntFromUint(num.Quote(100), false).String(), res.Realized.String())
	assert.False(t, res.Position.IsActive())
	assert.Zero(t, res.Position.AvgEntryPrice)
	assert.True(t, res.MarginAfter.IsZero())
	assert.Equal(t, res.Realized.String(), res.Position.RealizedPnL.String())
}

func TestNetShortProfitsWhenPriceFalls(t *testing.T) {
	open := positions.Net(flat(), units(-10), dollars(100))
	require.True(t, open.Position.Size.IsNegative())

	res := positions.Net(open.Position, units(10), dollars(80))
	assert.Equal(t, positions.Close, res.Kind)
	assert.Equal(t, num.Quote(200).String(), res.Realized.String())
}

func TestNetFlipLongToShort(t *testing.T) {
	open := positions.Net(flat(), units(30), dollars(10))
	res := positions.Net(open.Position, units(-80), dollars(12))

	assert.Equal(t, positions.Flip, res.Kind)
	assert.Equal(t, num.Quote(60).String(), res.Realized.String())
	assert.Equal(t, units(30).Abs().String(), res.Closed.String())
	assert.Equal(t, units(-50).String(), res.Position.Size.String())
	assert.Equal(t, dollars(12), res.Position.AvgEntryPrice)
	assert.Equal(t, num.Quote(600).String(), res.MarginAfter.String())
	assert.Equal(t, num.Quote(300).String(), res.MarginBefore.String())
	requireMarginInvariant(t, res.Position)
}

func TestNetFlipShortToLong(t *testing.T) {
	open := positions.Net(flat(), units(-100), dollars(100))
	res := positions.Net(open.Position, units(150), dollars(80))

	assert.Equal(t, positions.Flip, res.Kind)
	assert.Equal(t, num.Quote(2_000).String(), res.Realized.String())
	assert.Equal(t, units(50).String(), res.Position.Size.String())
	assert.Equal(t, dollars(80), res.Position.AvgEntryPrice)
}

func TestNetDoesNotModifyInput(t *testing.T) {
	open := positions.Net(flat(), units(10), dollars(10))
	before := open.Position.Clone()
	_ = positions.Net(open.Position, units(-25), dollars(11))
	assert.Equal(t, before, open.Position)
}

func TestUnrealized(t *testing.T) {
	long := positions.Net(flat(), units(10), dollars(100)).Position
	assert.Equal(t, num.Quote(50).String(), positions.Unrealized(long, dollars(105)).String())

	short := positions.Net(flat(), units(-10), dollars(100)).Position
	assert.Equal(t, num.IntFromUint(num.Quote(50), false).String(), positions.Unrealized(short, dollars(105)).String())

	assert.True(t, positions.Unrealized(flat(), dollars(1)).IsZero())
}

func TestBatchCommit(t *testing.T) {
	m := positions.NewManager("ETH-USD")

	b := m.Batch()
	b.Apply("alice", units(5), dollars(10))
	b.Apply("bob", units(-5), dollars(10))
	b.Apply("alice", units(5), dollars(12))

	_, ok := m.Get("alice")
	assert.False(t, ok, "nothing is visible before commit")

	b.Commit()
	assert.Equal(t, []string{"alice", "bob"}, b.Traders())

	alice, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, units(10).String(), alice.Size.String())
	assert.Equal(t, dollars(11), alice.AvgEntryPrice)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "alice", active[0].Trader)
	assert.Equal(t, units(10).Abs().String(), m.OpenInterest().String())
}

func TestBatchDiscardedWithoutCommit(t *testing.T) {
	m := positions.NewManager("ETH-USD")
	b := m.Batch()
	b.Apply("alice", units(5), dollars(10))

	p := m.Current("alice")
	assert.False(t, p.IsActive())
	assert.Equal(t, "ETH-USD", p.MarketID)
}

func TestClosedPositionKeepsRealizedPnL(t *testing.T) {
	m := positions.NewManager("ETH-USD")
	b := m.Batch()
	b.Apply("alice", units(5), dollars(10))
	b.Apply("alice", units(-5), dollars(11))
	b.Commit()

	p, ok := m.Get("alice")
	require.True(t, ok)
	assert.False(t, p.IsActive())
	assert.Equal(t, num.Quote(5).String(), p.RealizedPnL.String())
	assert.Empty(t, m.Active())
}

func TestInterestSidesDivergeAfterOneSidedClose(t *testing.T) {
	m := positions.NewManager("ETH-USD")
	b := m.Batch()
	b.Apply("alice", units(5), dollars(10))
	b.Apply("bob", units(-5), dollars(10))
	b.Commit()

	long, short := m.Interest()
	assert.Equal(t, units(5).String(), long.String())
	assert.Equal(t, long.String(), short.String())

	// a forced close at the mark has no counterparty
	b = m.Batch()
	b.Apply("alice", units(-5), dollars(4))
	b.Commit()

	long, short = m.Interest()
	assert.True(t, long.IsZero())
	assert.Equal(t, units(5).String(), short.String())
	assert.True(t, m.OpenInterest().IsZero())
}
