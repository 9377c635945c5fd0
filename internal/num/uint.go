package num

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Uint A wrapper for a big unsigned int
type Uint struct {
	u uint256.Int
}

// NewUint creates a new Uint with the value of the
// uint64 passed as a parameter.
func NewUint(val uint64) *Uint {
	return &Uint{*uint256.NewInt(val)}
}

// UintZero returns a new Uint set to zero.
func UintZero() *Uint {
	return NewUint(0)
}

// Min returns the smallest of the 2 numbers
func Min(a, b *Uint) *Uint {
	if a.LT(b) {
		return a
	}
	return b
}

// Max returns the largest of the 2 numbers
func Max(a, b *Uint) *Uint {
	if a.GT(b) {
		return a
	}
	return b
}

// UintFromBig construct a new Uint with a big.Int
// returns true if overflow happened
func UintFromBig(b *big.Int) (*Uint, bool) {
	if b.Sign() < 0 {
		return NewUint(0), true
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return NewUint(0), true
	}
	return &Uint{*u}, false
}

// UintFromString creates a new Uint from a string
// interpreted using the given base.
// Returns true if an error/overflow happened.
func UintFromString(str string, base int) (*Uint, bool) {
	b, ok := big.NewInt(0).SetString(str, base)
	if !ok {
		return NewUint(0), true
	}
	return UintFromBig(b)
}

// Sum just removes the need to write num.NewUint(0).AddSum(x, y, z)
func Sum(vals ...*Uint) *Uint {
	return NewUint(0).AddSum(vals...)
}

func (z *Uint) Set(oth *Uint) *Uint {
	z.u.Set(&oth.u)
	return z
}

func (z *Uint) SetUint64(val uint64) *Uint {
	z.u.SetUint64(val)
	return z
}

func (z Uint) Uint64() uint64 {
	return z.u.Uint64()
}

// IsUint64 reports whether the value fits into a uint64.
func (z Uint) IsUint64() bool {
	return z.u.IsUint64()
}

func (z Uint) BigInt() *big.Int {
	return z.u.ToBig()
}

// Add will add x and y then store the result into z.
// this is equivalent to:
// `z = x + y`
func (z *Uint) Add(x, y *Uint) *Uint {
	z.u.Add(&x.u, &y.u)
	return z
}

// AddOverflow is Add returning true when the sum does not fit 256 bits.
func (z *Uint) AddOverflow(x, y *Uint) (*Uint, bool) {
	_, overflow := z.u.AddOverflow(&x.u, &y.u)
	return z, overflow
}

// AddSum adds multiple values at the same time to a given uint
// so x.AddSum(y, z) is equivalent to x + y + z
func (z *Uint) AddSum(vals ...*Uint) *Uint {
	for _, x := range vals {
		z.u.Add(&z.u, &x.u)
	}
	return z
}

// Sub will subtract y from x then store the result into z.
// this is equivalent to:
// `z = x - y`
// The result wraps around on underflow, callers check with LT first.
func (z *Uint) Sub(x, y *Uint) *Uint {
	z.u.Sub(&x.u, &y.u)
	return z
}

// SubOverflow is Sub returning true when y > x.
func (z *Uint) SubOverflow(x, y *Uint) (*Uint, bool) {
	_, ok := z.u.SubOverflow(&x.u, &y.u)
	return z, ok
}

// Delta will subtract y from x and store the result
// unless x-y overflowed, in which case the neg flag is returned
// and the result of y - x is set instead
func (z *Uint) Delta(x, y *Uint) (*Uint, bool) {
	if y.GT(x) {
		_ = z.Sub(y, x)
		return z, true
	}
	_ = z.Sub(x, y)
	return z, false
}

// Mul will multiply x and y then store the result into z.
// `z = x * y`
func (z *Uint) Mul(x, y *Uint) *Uint {
	z.u.Mul(&x.u, &y.u)
	return z
}

// Div will divide x by y then store the result into z.
// `z = x / y`, a zero divisor yields zero.
func (z *Uint) Div(x, y *Uint) *Uint {
	z.u.Div(&x.u, &y.u)
	return z
}

// MulDiv sets z to floor(x * y / d).
func (z *Uint) MulDiv(x, y, d *Uint) *Uint {
	var p uint256.Int
	p.Mul(&x.u, &y.u)
	z.u.Div(&p, &d.u)
	return z
}

// MulDivOverflow sets z to floor(x * y / d) and reports whether x * y
// did not fit 256 bits, in which case z is left unchanged.
func (z *Uint) MulDivOverflow(x, y, d *Uint) (*Uint, bool) {
	var p uint256.Int
	if _, overflow := p.MulOverflow(&x.u, &y.u); overflow {
		return z, true
	}
	z.u.Div(&p, &d.u)
	return z, false
}

// MulDivCeil sets z to ceil(x * y / d).
func (z *Uint) MulDivCeil(x, y, d *Uint) *Uint {
	var p, q, r uint256.Int
	p.Mul(&x.u, &y.u)
	q.Div(&p, &d.u)
	r.Mod(&p, &d.u)
	if !r.IsZero() {
		q.AddUint64(&q, 1)
	}
	z.u.Set(&q)
	return z
}

func (u Uint) LT(oth *Uint) bool {
	return u.u.Lt(&oth.u)
}

func (u Uint) LTE(oth *Uint) bool {
	return !u.u.Gt(&oth.u)
}

func (u Uint) EQ(oth *Uint) bool {
	return u.u.Eq(&oth.u)
}

func (u Uint) EQUint64(oth uint64) bool {
	return u.u.Eq(uint256.NewInt(oth))
}

func (u Uint) NEQ(oth *Uint) bool {
	return !u.u.Eq(&oth.u)
}

func (u Uint) GT(oth *Uint) bool {
	return u.u.Gt(&oth.u)
}

func (u Uint) GTE(oth *Uint) bool {
	return !u.u.Lt(&oth.u)
}

// IsZero return whether u == 0 or not
func (u Uint) IsZero() bool {
	return u.u.IsZero()
}

// Copy sets z to the value of x.
func (z *Uint) Copy(x *Uint) *Uint {
	z.u = x.u
	return z
}

// Clone create copy of this value
func (z Uint) Clone() *Uint {
	return &Uint{z.u}
}

// String returns the stored value as a base 10 string
func (u Uint) String() string {
	return u.u.ToBig().String()
}

// Format implement fmt.Formatter
func (u Uint) Format(s fmt.State, ch rune) {
	u.u.Format(s, ch)
}

// MarshalText encodes the value as a base 10 string so that
// 18 decimal sizes survive JSON without float rounding.
func (u Uint) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Uint) UnmarshalText(b []byte) error {
	v, overflow := UintFromString(string(b), 10)
	if overflow {
		return fmt.Errorf("invalid unsigned integer %q", string(b))
	}
	u.u = v.u
	return nil
}
