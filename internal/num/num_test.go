package num_test

import (
	"testing"

	"marginbook/internal/num"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntConstructors(t *testing.T) {
	n := num.NewInt(42)
	assert.Equal(t, uint64(42), n.U.Uint64())
	assert.True(t, n.IsPositive())
	assert.False(t, n.IsNegative())

	n = num.NewInt(-42)
	assert.Equal(t, uint64(42), n.U.Uint64())
	assert.True(t, n.IsNegative())
	assert.False(t, n.IsPositive())

	n = num.IntFromUint(num.NewUint(0), false)
	assert.True(t, n.IsZero())
	assert.False(t, n.IsNegative(), "zero is never negative")
}

func TestIntAddAcrossZero(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{30, -80, -50},
		{-50, 80, 30},
		{-30, -20, -50},
		{10, -10, 0},
		{0, -7, -7},
	}
	for _, tt := range tests {
		got := num.NewInt(tt.a).Add(num.NewInt(tt.b))
		assert.Equal(t, num.NewInt(tt.want).String(), got.String(), "%d + %d", tt.a, tt.b)
	}
}

func TestIntCmpAndClone(t *testing.T) {
	a := num.NewInt(5)
	b := a.Clone().FlipSign()
	assert.True(t, b.LT(a))
	assert.True(t, a.GT(b))
	assert.Equal(t, "5", a.String())
	assert.Equal(t, "-5", b.String())
	assert.True(t, num.NewInt(3).Sub(num.NewInt(3)).EQ(num.IntZero()))
}

func TestNotionalRounding(t *testing.T) {
	// 1.5 units at 2.000001
	size := num.NewUint(0).Add(num.Units(1), num.NewUint(500_000_000_000_000_000))
	price := uint64(2_000_001)

	floor := num.Notional(size, price)
	ceil := num.NotionalCeil(size, price)
	assert.Equal(t, "3000001", floor.String())
	assert.Equal(t, "3000002", ceil.String())

	exact := num.Notional(num.Units(30), 10_000_000)
	assert.Equal(t, num.Quote(300).String(), exact.String())
	assert.True(t, exact.EQ(num.NotionalCeil(num.Units(30), 10_000_000)))
}

func TestParseFixed(t *testing.T) {
	p, err := num.ParsePrice("2.75")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_750_000), p)

	s, err := num.ParseSize("0.5")
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", s.String())

	_, err = num.ParsePrice("1.0000001")
	assert.Error(t, err)
	_, err = num.ParseQuote("-1")
	assert.Error(t, err)

	assert.Equal(t, "2.75", num.PriceDecimal(2_750_000).String())
	assert.Equal(t, "-60", num.SignedQuoteDecimal(num.IntFromUint(num.Quote(60), false)).String())
}

func TestTextRoundTrip(t *testing.T) {
	var u num.Uint
	require.NoError(t, u.UnmarshalText([]byte("123456789012345678901234567890")))
	assert.Equal(t, "123456789012345678901234567890", u.String())

	var i num.Int
	require.NoError(t, i.UnmarshalText([]byte("-17")))
	assert.True(t, i.IsNegative())
	assert.Equal(t, "-17", i.String())
}

func TestBoundsAndOverflow(t *testing.T) {
	assert.Equal(t, "340282366920938463463374607431768211455", num.MaxSize.String())
	assert.Equal(t, num.MaxSize.String(), num.MaxAmount.String())

	// a maximal size at the largest price still fits 256 bits
	n, overflow := num.NewUint(0).MulDivOverflow(num.MaxSize, num.NewUint(^uint64(0)), num.BaseOne())
	assert.False(t, overflow)
	assert.False(t, n.IsZero())

	huge, bad := num.UintFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.False(t, bad)
	_, overflow = num.NewUint(0).AddOverflow(huge, num.NewUint(1))
	assert.True(t, overflow)
	_, overflow = num.NewUint(0).MulDivOverflow(huge, num.NewUint(2), num.BaseOne())
	assert.True(t, overflow)

	sum, overflow := num.NewUint(0).AddOverflow(num.NewUint(2), num.NewUint(3))
	assert.False(t, overflow)
	assert.Equal(t, uint64(5), sum.Uint64())
}
