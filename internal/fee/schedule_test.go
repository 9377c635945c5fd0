package fee_test

import (
	"testing"

	"marginbook/internal/fee"
	"marginbook/internal/num"
	"marginbook/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestForTrade(t *testing.T) {
	s := fee.Schedule{MakerBps: 2, TakerBps: 10}

	// 100 units at 50.00 = 5000.00 notional
	f := s.ForTrade(num.Units(100), 50_000_000, types.Buy)
	assert.Equal(t, num.Quote(5).String(), f.Buyer.String())
	assert.Equal(t, num.Quote(1).String(), f.Seller.String())

	f = s.ForTrade(num.Units(100), 50_000_000, types.Sell)
	assert.Equal(t, num.Quote(1).String(), f.Buyer.String())
	assert.Equal(t, num.Quote(5).String(), f.Seller.String())
}

func TestFeesRoundDown(t *testing.T) {
	s := fee.Default()
	// 0.001 notional at 5 bps rounds to zero
	f := s.ForTrade(num.Units(1), 1_000, types.Buy)
	assert.True(t, f.Taker.IsZero())
	assert.True(t, f.Maker.IsZero())
}

func TestWorst(t *testing.T) {
	s := fee.Schedule{MakerBps: 7, TakerBps: 3}
	assert.Equal(t, num.NewUint(7_000).String(), s.Worst(num.Quote(10)).String())
}
