package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Field is re-exported so callers can build field lists without importing zap.
type Field = zap.Field

func String(key, val string) zap.Field { return zap.String(key, val) }

func Strings(key string, val []string) zap.Field { return zap.Strings(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Uint64(key string, val uint64) zap.Field { return zap.Uint64(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

func Error(err error) zap.Field { return zap.Error(err) }

// Stringer logs anything with a String method, e.g. fixed point amounts.
func Stringer(key string, val fmt.Stringer) zap.Field { return zap.Stringer(key, val) }

func Trader(id string) zap.Field { return zap.String("trader", id) }

func MarketID(id string) zap.Field { return zap.String("market", id) }

func OrderID(id uint64) zap.Field { return zap.Uint64("order_id", id) }
