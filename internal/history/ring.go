// Package history keeps the executed trades of one market in a
// fixed-capacity ring. Once full, the oldest trade is overwritten.
// The ring is not safe for concurrent use; its market serialises access.
package history

import (
	"marginbook/internal/types"
)

const DefaultCapacity = 10_000

type Ring struct {
	buf   []types.Trade
	next  int
	count int
	total uint64
}

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]types.Trade, capacity)}
}

// Append records a trade, evicting the oldest one when full.
func (r *Ring) Append(t types.Trade) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.total++
}

func (r *Ring) Len() int { return r.count }

func (r *Ring) Cap() int { return len(r.buf) }

// Total is the number of trades ever appended, evicted ones included.
func (r *Ring) Total() uint64 { return r.total }

func (r *Ring) at(back int) types.Trade {
	idx := (r.next - 1 - back + 2*len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

// Last returns the most recent trade.
func (r *Ring) Last() (types.Trade, bool) {
	if r.count == 0 {
		return types.Trade{}, false
	}
	return r.at(0), true
}

// Backward visits trades newest first until fn returns false.
func (r *Ring) Backward(fn func(types.Trade) bool) {
	for i := 0; i < r.count; i++ {
		if !fn(r.at(i)) {
			return
		}
	}
}

// Recent returns up to n trades, oldest first.
func (r *Ring) Recent(n int) []types.Trade {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.Trade, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = r.at(i)
	}
	return out
}
