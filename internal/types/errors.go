package types

import (
	"errors"
	"fmt"
)

// Kind classifies core errors so that callers can decide whether a retry
// makes sense. Every kind leaves book, positions and collateral untouched.
type Kind int

const (
	KindUnknown Kind = iota
	// ValidationError: bad input, rejected before any state change.
	ValidationError
	// MarginError: not enough collateral or spot trading blocked.
	MarginError
	// ExecutionError: matching was simulated but could not be committed.
	ExecutionError
	// LiquidationError: informational, re-check state.
	LiquidationError
)

func (k Kind) String() string {
	switch k {
	case ValidationError:
		return "validation"
	case MarginError:
		return "margin"
	case ExecutionError:
		return "execution"
	case LiquidationError:
		return "liquidation"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to a sentinel.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

var (
	ErrInvalidPrice       = newError(ValidationError, "price must be positive")
	ErrInvalidSize        = newError(ValidationError, "size must be positive")
	ErrInvalidAmount      = newError(ValidationError, "amount must be positive")
	ErrInvalidMode        = newError(ValidationError, "unknown order mode")
	ErrInvalidSide        = newError(ValidationError, "unknown order side")
	ErrOrderNotFound      = newError(ValidationError, "order not found")
	ErrNotOrderOwner      = newError(ValidationError, "order belongs to another trader")
	ErrMarketNotFound     = newError(ValidationError, "market not found")
	ErrMarketExists       = newError(ValidationError, "market already exists")
	ErrInvalidMarket      = newError(ValidationError, "invalid market id")
	ErrAccountNotFound    = newError(ValidationError, "account not found")
	ErrInsufficientMargin = newError(MarginError, "insufficient margin")
	ErrSpotTradingBlocked = newError(MarginError, "spot trading blocked: market is margin only")
	ErrInsufficientFunds  = newError(MarginError, "insufficient available collateral")
	ErrSlippageExceeded   = newError(ExecutionError, "slippage exceeded")
	ErrNoLiquidity        = newError(ExecutionError, "no liquidity on the opposing side")
	ErrNotLiquidatable    = newError(LiquidationError, "position is not liquidatable")
	ErrPositionClosed     = newError(LiquidationError, "position already closed")
)

// KindOf returns the Kind of err, or KindUnknown if err is not a core error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrapf adds context to a core error while keeping errors.Is and KindOf working.
func Wrapf(err *Error, format string, args ...interface{}) error {
	return &Error{Kind: err.Kind, Err: fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...)}
}
