package num

import "fmt"

// Int is a signed integer built from a Uint magnitude and a sign flag.
// Zero is always stored as non-negative.
type Int struct {
	// U is the magnitude.
	U *Uint
	// s is true when the value is >= 0.
	s bool
}

// NewInt creates a new Int with the value of the int64 passed as a parameter.
func NewInt(val int64) *Int {
	if val < 0 {
		return &Int{U: NewUint(uint64(-val)), s: false}
	}
	return &Int{U: NewUint(uint64(val)), s: true}
}

// IntZero returns a new zero Int.
func IntZero() *Int {
	return NewInt(0)
}

// IntFromUint creates a new Int with the magnitude u.
// positive selects the sign, a zero magnitude is always non-negative.
func IntFromUint(u *Uint, positive bool) *Int {
	i := &Int{U: u.Clone(), s: positive}
	i.normalise()
	return i
}

func (i *Int) normalise() {
	if i.U.IsZero() {
		i.s = true
	}
}

// IsNegative returns true if the value is < 0.
func (i *Int) IsNegative() bool {
	return !i.s
}

// IsPositive returns true if the value is > 0.
func (i *Int) IsPositive() bool {
	return i.s && !i.U.IsZero()
}

// IsZero returns true if the value is 0.
func (i *Int) IsZero() bool {
	return i.U.IsZero()
}

// Clone returns a deep copy.
func (i *Int) Clone() *Int {
	return &Int{U: i.U.Clone(), s: i.s}
}

// Abs returns a copy of the magnitude.
func (i *Int) Abs() *Uint {
	return i.U.Clone()
}

// FlipSign negates i in place.
func (i *Int) FlipSign() *Int {
	i.s = !i.s
	i.normalise()
	return i
}

// Neg returns -i as a new value.
func (i *Int) Neg() *Int {
	return i.Clone().FlipSign()
}

// Add sets i = i + oth.
func (i *Int) Add(oth *Int) *Int {
	if i.s == oth.s {
		i.U = NewUint(0).Add(i.U, oth.U)
		return i
	}
	mag, neg := NewUint(0).Delta(i.U, oth.U)
	i.U = mag
	if neg {
		i.s = oth.s
	}
	i.normalise()
	return i
}

// AddSum adds several values to i.
func (i *Int) AddSum(vals ...*Int) *Int {
	for _, v := range vals {
		i.Add(v)
	}
	return i
}

// Sub sets i = i - oth.
func (i *Int) Sub(oth *Int) *Int {
	return i.Add(oth.Neg())
}

// Sign returns -1, 0 or 1.
func (i *Int) Sign() int {
	switch {
	case i.U.IsZero():
		return 0
	case i.s:
		return 1
	default:
		return -1
	}
}

// Cmp compares i and oth, returning -1, 0 or 1.
func (i *Int) Cmp(oth *Int) int {
	return i.Clone().Sub(oth).Sign()
}

func (i *Int) LT(oth *Int) bool { return i.Cmp(oth) < 0 }

func (i *Int) GT(oth *Int) bool { return i.Cmp(oth) > 0 }

func (i *Int) EQ(oth *Int) bool { return i.Cmp(oth) == 0 }

// String returns the value in base 10 with a leading minus sign when negative.
func (i *Int) String() string {
	if i.IsNegative() {
		return "-" + i.U.String()
	}
	return i.U.String()
}

func (i Int) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Int) UnmarshalText(b []byte) error {
	s := string(b)
	positive := true
	if len(s) > 0 && s[0] == '-' {
		positive = false
		s = s[1:]
	}
	u, overflow := UintFromString(s, 10)
	if overflow {
		return fmt.Errorf("invalid integer %q", string(b))
	}
	*i = *IntFromUint(u, positive)
	return nil
}
