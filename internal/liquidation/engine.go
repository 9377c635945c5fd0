// Package liquidation decides when a position is under-margined and
// prepares its forced close.
//
// Collateral is isolated per position: the margin backing a position is its
// own locked margin. With maintenance = locked * MaintenanceMarginBps/10000,
// a position is liquidatable iff
//
//	locked + unrealizedPnL(mark) < maintenance
//
// A liquidated position is closed at the mark price through the regular
// full-close netting, a penalty of PenaltyBps of the closed notional is
// confiscated into the insurance fund, and whatever loss the account cannot
// cover is recorded as bad debt.
package liquidation

import (
	"marginbook/internal/num"
	"marginbook/internal/positions"
	"marginbook/internal/types"
)

type Config struct {
	MaintenanceMarginBps uint64 `toml:"maintenance_margin_bps"`
	PenaltyBps           uint64 `toml:"penalty_bps"`
	// ScanLimit bounds how many active traders one automatic scan checks.
	ScanLimit int `toml:"scan_limit"`
}

func DefaultConfig() Config {
	return Config{
		MaintenanceMarginBps: 500,
		PenaltyBps:           250,
		ScanLimit:            32,
	}
}

// Health is the margin state of one position at a mark price.
type Health struct {
	Equity      *num.Int
	Maintenance *num.Uint
	Unrealized  *num.Int
}

// Liquidatable reports whether equity is strictly below maintenance.
func (h Health) Liquidatable() bool {
	return h.Equity.LT(num.IntFromUint(h.Maintenance, true))
}

// Engine holds the liquidation policy and the active-trader set of one
// market. It is not safe for concurrent use; its market serialises access.
type Engine struct {
	cfg    Config
	active *ActiveSet
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, active: NewActiveSet()}
}

func (e *Engine) Config() Config { return e.cfg }

// Maintenance returns the maintenance margin of pos.
func (e *Engine) Maintenance(pos types.Position) *num.Uint {
	return num.Bps(pos.LockedMargin, e.cfg.MaintenanceMarginBps)
}

func (e *Engine) Health(pos types.Position, mark uint64) Health {
	u := positions.Unrealized(pos, mark)
	equity := num.IntFromUint(pos.LockedMargin, true).Add(u)
	return Health{Equity: equity, Maintenance: e.Maintenance(pos), Unrealized: u}
}

// IsLiquidatable reports whether an open pos is under-margined at mark.
func (e *Engine) IsLiquidatable(pos types.Position, mark uint64) bool {
	if !pos.IsActive() {
		return false
	}
	return e.Health(pos, mark).Liquidatable()
}

// Close is the prepared forced close of a position.
type Close struct {
	Netting positions.Result
	// Penalty is the amount to confiscate, before clamping to what the
	// account holds.
	Penalty  *num.Uint
	Notional *num.Uint
}

// PlanClose nets the full opposite of pos at mark and computes the penalty.
// pos must be active.
func (e *Engine) PlanClose(pos types.Position, mark uint64) Close {
	delta := pos.Size.Neg()
	res := positions.Net(pos, delta, mark)
	notional := num.Notional(res.Closed, mark)
	return Close{
		Netting:  res,
		Penalty:  num.Bps(notional, e.cfg.PenaltyBps),
		Notional: notional,
	}
}

// Track keeps the active set in line with a trader's position.
func (e *Engine) Track(pos types.Position) {
	if pos.IsActive() {
		e.active.Add(pos.Trader)
		return
	}
	e.active.Remove(pos.Trader)
}

func (e *Engine) Untrack(trader string) {
	e.active.Remove(trader)
}

func (e *Engine) Active() *ActiveSet { return e.active }

// Candidates returns the next traders an automatic scan should check.
func (e *Engine) Candidates() []string {
	return e.active.Next(e.cfg.ScanLimit)
}
