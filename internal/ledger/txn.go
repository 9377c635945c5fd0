package ledger

import (
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Txn stages collateral movements on copies of the touched accounts.
// The ledger stays locked from Begin until Commit or Rollback, so a Txn
// must be short lived and never span blocking calls.
type Txn struct {
	l       *Ledger
	staged  map[string]*Account
	order   []string
	ins     *num.Uint
	fees    *num.Uint
	badDebt *num.Uint
	done    bool
}

// Begin locks the ledger and opens a transaction.
func (l *Ledger) Begin() *Txn {
	l.mu.Lock()
	return &Txn{
		l:       l,
		staged:  make(map[string]*Account),
		ins:     l.insurance.Clone(),
		fees:    l.feePool.Clone(),
		badDebt: l.badDebt.Clone(),
	}
}

func (t *Txn) account(trader string) *Account {
	if acc, ok := t.staged[trader]; ok {
		return acc
	}
	var acc *Account
	if cur, ok := t.l.accounts[trader]; ok {
		acc = cur.clone()
	} else {
		acc = newAccount(trader)
	}
	t.staged[trader] = acc
	t.order = append(t.order, trader)
	return acc
}

// Account returns the staged view of the trader's account.
func (t *Txn) Account(trader string) Account {
	return *t.account(trader).clone()
}

// Reserve moves amount from available to reserved.
func (t *Txn) Reserve(trader string, amount *num.Uint) error {
	if amount.IsZero() {
		return nil
	}
	acc := t.account(trader)
	if acc.Available().LT(amount) {
		return types.Wrapf(types.ErrInsufficientMargin, "trader %s needs %s, has %s available", trader, amount, acc.Available())
	}
	acc.Reserved = num.NewUint(0).Add(acc.Reserved, amount)
	return nil
}

// Release moves amount from reserved back to available. Releasing more
// than is reserved clamps at zero.
func (t *Txn) Release(trader string, amount *num.Uint) {
	if amount.IsZero() {
		return
	}
	acc := t.account(trader)
	if acc.Reserved.LT(amount) {
		acc.Reserved = num.UintZero()
		return
	}
	acc.Reserved = num.NewUint(0).Sub(acc.Reserved, amount)
}

// Settle credits or debits realized P&L to the trader's total without any
// margin check. A loss larger than the available collateral empties the
// available part and the rest is recorded as bad debt and returned.
func (t *Txn) Settle(trader string, pnl *num.Int) *num.Uint {
	if pnl.IsZero() {
		return num.UintZero()
	}
	acc := t.account(trader)
	if pnl.IsPositive() {
		acc.Total = num.NewUint(0).Add(acc.Total, pnl.U)
		return num.UintZero()
	}
	return t.take(acc, pnl.U)
}

// ChargeFee debits a trading fee into the fee pool. Fees must be covered
// by available collateral.
func (t *Txn) ChargeFee(trader string, fee *num.Uint) error {
	if fee.IsZero() {
		return nil
	}
	acc := t.account(trader)
	if acc.Available().LT(fee) {
		return types.Wrapf(types.ErrInsufficientMargin, "trader %s cannot cover fee %s", trader, fee)
	}
	acc.Total = num.NewUint(0).Sub(acc.Total, fee)
	t.fees = num.NewUint(0).Add(t.fees, fee)
	return nil
}

// CollectFee debits up to fee from available collateral into the fee pool
// and returns what was collected. Used for resting orders, which must not
// block the incoming order they trade against.
func (t *Txn) CollectFee(trader string, fee *num.Uint) *num.Uint {
	acc := t.account(trader)
	taken := num.Min(fee, acc.Available()).Clone()
	acc.Total = num.NewUint(0).Sub(acc.Total, taken)
	t.fees = num.NewUint(0).Add(t.fees, taken)
	return taken
}

// Confiscate takes up to amount of the trader's available collateral into
// the insurance fund and returns what was actually taken.
func (t *Txn) Confiscate(trader string, amount *num.Uint) *num.Uint {
	acc := t.account(trader)
	taken := num.Min(amount, acc.Available()).Clone()
	acc.Total = num.NewUint(0).Sub(acc.Total, taken)
	t.ins = num.NewUint(0).Add(t.ins, taken)
	return taken
}

// take debits amount from available, records the uncovered part as bad
// debt and returns it.
func (t *Txn) take(acc *Account, amount *num.Uint) *num.Uint {
	covered := num.Min(amount, acc.Available()).Clone()
	acc.Total = num.NewUint(0).Sub(acc.Total, covered)
	short := num.NewUint(0).Sub(amount, covered)
	if !short.IsZero() {
		t.badDebt = num.NewUint(0).Add(t.badDebt, short)
	}
	return short
}

// Commit writes every staged account back and unlocks the ledger.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	for _, trader := range t.order {
		acc := t.staged[trader]
		if _, exists := t.l.accounts[trader]; !exists && acc.Total.IsZero() && acc.Reserved.IsZero() {
			continue
		}
		t.l.accounts[trader] = acc
	}
	t.l.insurance = t.ins
	t.l.feePool = t.fees
	t.l.badDebt = t.badDebt
	t.done = true
	t.l.mu.Unlock()
}

// Rollback discards the staged changes and unlocks the ledger.
// It is safe to call after Commit.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.l.mu.Unlock()
}
