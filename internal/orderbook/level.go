package orderbook

import (
	"github.com/google/btree"

	"marginbook/internal/num"
	"marginbook/internal/types"
)

// level is every order resting at one price on one side, in arrival order.
// Orders are referenced by id; the book's order map owns them.
type level struct {
	price  uint64
	orders []types.OrderID
	volume *num.Uint
}

func newLevel(price uint64) *level {
	return &level{price: price, volume: num.UintZero()}
}

func (l *level) Less(than btree.Item) bool {
	return l.price < than.(*level).price
}

func (l *level) push(o *Order) {
	l.orders = append(l.orders, o.ID)
	l.volume.Add(l.volume, o.Remaining)
}

// popFront removes the oldest order, which must be id.
func (l *level) popFront(id types.OrderID) {
	if len(l.orders) > 0 && l.orders[0] == id {
		l.orders = l.orders[1:]
		return
	}
	l.remove(id)
}

func (l *level) remove(id types.OrderID) bool {
	for i, oid := range l.orders {
		if oid == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

func (l *level) empty() bool { return len(l.orders) == 0 }

func (l *level) view() types.Level {
	return types.Level{Price: l.price, Volume: l.volume.Clone(), Orders: len(l.orders)}
}

// side is one half of the book. Bids are walked from the highest price,
// asks from the lowest.
type side struct {
	side   types.Side
	levels *btree.BTree
}

func newSide(s types.Side) *side {
	return &side{side: s, levels: btree.New(8)}
}

func (s *side) get(price uint64) *level {
	item := s.levels.Get(&level{price: price})
	if item == nil {
		return nil
	}
	return item.(*level)
}

func (s *side) getOrCreate(price uint64) *level {
	if l := s.get(price); l != nil {
		return l
	}
	l := newLevel(price)
	s.levels.ReplaceOrInsert(l)
	return l
}

func (s *side) delete(l *level) {
	s.levels.Delete(l)
}

func (s *side) best() *level {
	var item btree.Item
	if s.side == types.Buy {
		item = s.levels.Max()
	} else {
		item = s.levels.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*level)
}

// walk visits levels best first until fn returns false.
func (s *side) walk(fn func(*level) bool) {
	iter := func(i btree.Item) bool { return fn(i.(*level)) }
	if s.side == types.Buy {
		s.levels.Descend(iter)
		return
	}
	s.levels.Ascend(iter)
}

func (s *side) depth(n int) []types.Level {
	if n <= 0 {
		return []types.Level{}
	}
	out := make([]types.Level, 0, min(n, s.levels.Len()))
	s.walk(func(l *level) bool {
		out = append(out, l.view())
		return len(out) < n
	})
	return out
}
