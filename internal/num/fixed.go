package num

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is used for presentation and configuration only,
// never for margin or P&L arithmetic.
type Decimal = decimal.Decimal

const (
	// QuoteDecimals is the precision of prices and collateral amounts.
	QuoteDecimals = 6
	// BaseDecimals is the precision of order and position sizes.
	BaseDecimals = 18
	// BpsDenominator converts basis points into a fraction.
	BpsDenominator = 10_000
)

var (
	// MaxSize is the largest order size, 2^128-1 base units. A size times a
	// uint64 price always fits 256 bits.
	MaxSize = maxUint128()
	// MaxAmount bounds collateral balances, 2^128-1 quote units, so that
	// sums of balances, fees and P&L never wrap.
	MaxAmount = maxUint128()

	quoteOne = NewUint(1_000_000)
	baseOne  = NewUint(1_000_000_000_000_000_000)
	bpsOne   = NewUint(BpsDenominator)
)

func maxUint128() *Uint {
	u := NewUint(1)
	u.u.Lsh(&u.u, 128)
	u.u.SubUint64(&u.u, 1)
	return u
}

// QuoteOne returns 1.0 expressed in quote units (6 decimals).
func QuoteOne() *Uint { return quoteOne.Clone() }

// BaseOne returns 1.0 expressed in base units (18 decimals).
func BaseOne() *Uint { return baseOne.Clone() }

// Units scales a whole number of base asset units to 18 decimals.
func Units(n uint64) *Uint {
	return NewUint(0).Mul(NewUint(n), baseOne)
}

// Quote scales a whole number of quote units to 6 decimals.
func Quote(n uint64) *Uint {
	return NewUint(0).Mul(NewUint(n), quoteOne)
}

// Notional returns floor(size * price / 1e18), i.e. the quote value of
// size base units at price ticks.
func Notional(size *Uint, price uint64) *Uint {
	return NewUint(0).MulDiv(size, NewUint(price), baseOne)
}

// NotionalCeil is Notional rounded up, used whenever margin is reserved
// so that a later exact lock never exceeds the reservation.
func NotionalCeil(size *Uint, price uint64) *Uint {
	return NewUint(0).MulDivCeil(size, NewUint(price), baseOne)
}

// Bps returns floor(amount * bps / 10000).
func Bps(amount *Uint, bps uint64) *Uint {
	return NewUint(0).MulDiv(amount, NewUint(bps), bpsOne)
}

// QuoteDecimal renders a quote amount (or a price in ticks) as a decimal.
func QuoteDecimal(u *Uint) Decimal {
	return decimal.NewFromBigInt(u.BigInt(), -QuoteDecimals)
}

// BaseDecimal renders a base size as a decimal.
func BaseDecimal(u *Uint) Decimal {
	return decimal.NewFromBigInt(u.BigInt(), -BaseDecimals)
}

// PriceDecimal renders a price in ticks as a decimal.
func PriceDecimal(ticks uint64) Decimal {
	return QuoteDecimal(NewUint(ticks))
}

// SignedQuoteDecimal renders a signed quote amount as a decimal.
func SignedQuoteDecimal(i *Int) Decimal {
	d := QuoteDecimal(i.U)
	if i.IsNegative() {
		return d.Neg()
	}
	return d
}

// ParseFixed parses a human decimal string ("12.5") into an integer scaled
// by the given number of decimals. More fractional digits than decimals is
// an error rather than a silent truncation.
func ParseFixed(s string, decimals int32) (*Uint, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	u, overflow := UintFromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows", s)
	}
	return u, nil
}

// ParsePrice parses a decimal price into ticks.
func ParsePrice(s string) (uint64, error) {
	u, err := ParseFixed(s, QuoteDecimals)
	if err != nil {
		return 0, err
	}
	if !u.IsUint64() {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return u.Uint64(), nil
}

// ParseSize parses a decimal base size.
func ParseSize(s string) (*Uint, error) {
	return ParseFixed(s, BaseDecimals)
}

// ParseQuote parses a decimal quote amount.
func ParseQuote(s string) (*Uint, error) {
	return ParseFixed(s, QuoteDecimals)
}
