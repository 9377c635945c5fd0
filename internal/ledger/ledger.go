// Package ledger keeps per-account collateral for the margin engine.
//
// Every account holds a total balance and the part of it reserved as margin
// (resting orders and open positions). available = total - reserved and is
// never negative. Mutations from matching go through a Txn which is applied
// in full on Commit or not at all.
package ledger

import (
	"sync"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// Account is a snapshot of one trader's collateral, in quote units.
type Account struct {
	Trader   string    `json:"trader"`
	Total    *num.Uint `json:"total"`
	Reserved *num.Uint `json:"reserved"`
}

// Available returns total - reserved.
func (a Account) Available() *num.Uint {
	return num.NewUint(0).Sub(a.Total, a.Reserved)
}

func (a Account) clone() *Account {
	return &Account{Trader: a.Trader, Total: a.Total.Clone(), Reserved: a.Reserved.Clone()}
}

func newAccount(trader string) *Account {
	return &Account{Trader: trader, Total: num.UintZero(), Reserved: num.UintZero()}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	// insurance receives liquidation penalties.
	insurance *num.Uint
	// feePool receives trading fees.
	feePool *num.Uint
	// badDebt accumulates losses no collateral could cover.
	badDebt *num.Uint
}

func New() *Ledger {
	return &Ledger{
		accounts:  make(map[string]*Account),
		insurance: num.UintZero(),
		feePool:   num.UintZero(),
		badDebt:   num.UintZero(),
	}
}

// Deposit credits amount to the trader's total, creating the account if
// needed. A total above num.MaxAmount is refused.
func (l *Ledger) Deposit(trader string, amount *num.Uint) (Account, error) {
	if amount == nil || amount.IsZero() {
		return Account{}, types.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		acc = newAccount(trader)
		l.accounts[trader] = acc
	}
	total, overflow := num.NewUint(0).AddOverflow(acc.Total, amount)
	if overflow || total.GT(num.MaxAmount) {
		if !ok {
			delete(l.accounts, trader)
		}
		return Account{}, types.Wrapf(types.ErrInvalidAmount, "total of %s would exceed %s", trader, num.MaxAmount)
	}
	acc.Total = total
	return *acc.clone(), nil
}

// Withdraw debits amount from the trader's available collateral.
func (l *Ledger) Withdraw(trader string, amount *num.Uint) (Account, error) {
	if amount == nil || amount.IsZero() {
		return Account{}, types.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		return Account{}, types.ErrAccountNotFound
	}
	if acc.Available().LT(amount) {
		return Account{}, types.ErrInsufficientFunds
	}
	acc.Total = num.NewUint(0).Sub(acc.Total, amount)
	return *acc.clone(), nil
}

// Account returns a copy of the trader's account.
func (l *Ledger) Account(trader string) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[trader]
	if !ok {
		return Account{}, false
	}
	return *acc.clone(), true
}

// Accounts returns copies of every account.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, *acc.clone())
	}
	return out
}

func (l *Ledger) InsuranceFund() *num.Uint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.insurance.Clone()
}

func (l *Ledger) FeePool() *num.Uint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feePool.Clone()
}

// BadDebt is the cumulative loss that exceeded the losing traders' collateral.
// It is recorded, not socialised.
func (l *Ledger) BadDebt() *num.Uint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.badDebt.Clone()
}
