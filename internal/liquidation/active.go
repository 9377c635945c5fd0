package liquidation

import (
	"github.com/google/btree"
)

type trader string

func (t trader) Less(than btree.Item) bool {
	return t < than.(trader)
}

// ActiveSet is the ordered set of traders holding an open position in a
// market. Next walks it round-robin so a bounded scan still reaches every
// trader over successive calls.
type ActiveSet struct {
	tree *btree.BTree
	// cursor is the first trader the next scan visits.
	cursor string
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{tree: btree.New(8)}
}

func (s *ActiveSet) Add(t string) {
	s.tree.ReplaceOrInsert(trader(t))
}

func (s *ActiveSet) Remove(t string) {
	s.tree.Delete(trader(t))
}

func (s *ActiveSet) Contains(t string) bool {
	return s.tree.Has(trader(t))
}

func (s *ActiveSet) Len() int { return s.tree.Len() }

// All returns every trader in order.
func (s *ActiveSet) All() []string {
	out := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		out = append(out, string(i.(trader)))
		return true
	})
	return out
}

// Next returns up to limit traders starting at the cursor, wrapping around
// once, and moves the cursor past the last one returned. A non-positive
// limit returns every trader.
func (s *ActiveSet) Next(limit int) []string {
	n := s.tree.Len()
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]string, 0, limit)
	collect := func(i btree.Item) bool {
		out = append(out, string(i.(trader)))
		return len(out) < limit
	}
	s.tree.AscendGreaterOrEqual(trader(s.cursor), collect)
	if len(out) < limit {
		s.tree.AscendLessThan(trader(s.cursor), collect)
	}

	last := out[len(out)-1]
	s.cursor = ""
	s.tree.AscendGreaterOrEqual(trader(last), func(i btree.Item) bool {
		if t := string(i.(trader)); t != last {
			s.cursor = t
			return false
		}
		return true
	})
	return out
}
