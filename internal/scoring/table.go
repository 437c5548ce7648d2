package scoring

import (
	"fmt"
	"slices"

	"github.com/efebarandurmaz/cellaudit/internal/address"
)

// Score is one cell's rejection count.
type Score struct {
	Address address.Address `json:"address"`
	Count   int             `json:"count"`
}

// Normalized is one cell's score scaled to [0,1].
type Normalized struct {
	Address address.Address `json:"address"`
	Value   float64         `json:"value"`
}

// Table maps cells to rejection counts in first-registration order. A cell
// at 0 was tested and found consistent; an absent cell was never tested.
type Table struct {
	order  []address.Address
	counts map[address.Address]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{counts: make(map[address.Address]int)}
}

// Register records a at 0 if it is not present yet.
func (t *Table) Register(a address.Address) {
	if _, ok := t.counts[a]; !ok {
		t.order = append(t.order, a)
		t.counts[a] = 0
	}
}

// Increment adds one rejection to a.
func (t *Table) Increment(a address.Address) {
	t.Register(a)
	t.counts[a]++
}

// Get returns a's count and whether it was tested.
func (t *Table) Get(a address.Address) (int, bool) {
	c, ok := t.counts[a]
	return c, ok
}

func (t *Table) Len() int { return len(t.order) }

// Entries returns scores in insertion order.
func (t *Table) Entries() []Score {
	out := make([]Score, len(t.order))
	for i, a := range t.order {
		out[i] = Score{Address: a, Count: t.counts[a]}
	}
	return out
}

// Rank returns scores sorted by count descending; ties keep insertion order.
func (t *Table) Rank() []Score {
	out := t.Entries()
	slices.SortStableFunc(out, func(a, b Score) int { return b.Count - a.Count })
	return out
}

// Normalize min-max scales counts to [0,1] in insertion order. When every
// count is equal each cell gets 0.5.
func (t *Table) Normalize() []Normalized {
	out := make([]Normalized, len(t.order))
	if len(t.order) == 0 {
		return out
	}
	lo, hi := t.counts[t.order[0]], t.counts[t.order[0]]
	for _, a := range t.order {
		lo = min(lo, t.counts[a])
		hi = max(hi, t.counts[a])
	}
	for i, a := range t.order {
		v := 0.5
		if hi != lo {
			v = float64(t.counts[a]-lo) / float64(hi-lo)
		}
		out[i] = Normalized{Address: a, Value: v}
	}
	return out
}

// Shade maps a normalized score to an RRGGBB red shade: white at 0, pure red
// at 1.
func Shade(v float64) string {
	v = min(max(v, 0), 1)
	c := 255 - int(255*v)
	return fmt.Sprintf("FF%02X%02X", c, c)
}

// Shades returns a fill per cell. A flat table is left white.
func (t *Table) Shades() map[address.Address]string {
	out := make(map[address.Address]string, len(t.order))
	flat := true
	for _, a := range t.order {
		if t.counts[a] != t.counts[t.order[0]] {
			flat = false
			break
		}
	}
	for _, n := range t.Normalize() {
		if flat {
			out[n.Address] = Shade(0)
			continue
		}
		out[n.Address] = Shade(n.Value)
	}
	return out
}

// Top returns at most n ranked scores.
func (t *Table) Top(n int) []Score {
	ranked := t.Rank()
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
