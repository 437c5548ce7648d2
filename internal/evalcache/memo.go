// Package evalcache substitutes resampled values into the host and memoizes
// the outputs each distinct value vector produces.
package evalcache

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/bootstrap"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// Target is an input range being resampled and the values currently written
// to its cells.
type Target struct {
	Key     string
	Cells   []address.Address
	Current []string
}

// NewTarget starts tracking a range whose cells hold original.
func NewTarget(key string, cells []address.Address, original []string) *Target {
	return &Target{Key: key, Cells: cells, Current: slices.Clone(original)}
}

type entry struct {
	key     string
	values  []string
	outputs []string
}

// Memo maps (range, value vector) to output values for one pass. Keys are
// bucketed by xxhash and compared in full on lookup.
type Memo struct {
	buckets map[uint64][]entry
	hits    int
	misses  int
	writes  int
}

// New returns an empty memo.
func New() *Memo {
	return &Memo{buckets: make(map[uint64][]entry)}
}

func (m *Memo) Hits() int   { return m.hits }
func (m *Memo) Misses() int { return m.misses }

// Writes returns the number of cell writes issued by misses.
func (m *Memo) Writes() int { return m.writes }

// Len returns the number of stored vectors.
func (m *Memo) Len() int {
	n := 0
	for _, b := range m.buckets {
		n += len(b)
	}
	return n
}

// FastReplace returns the outputs for sample substituted into t, one per
// output address. A hit pairs the stored values with this sample's inclusion
// set and leaves the host alone. A miss writes only cells whose current value
// differs, recalculates and reads the outputs.
func (m *Memo) FastReplace(ctx context.Context, wb host.Workbook, t *Target, sample bootstrap.InputSample, outputs []address.Address) ([]bootstrap.FunctionOutput[string], error) {
	values := sample.Values()
	h := hashKey(t.Key, values)

	if stored, ok := m.lookup(h, t.Key, values); ok {
		m.hits++
		return pair(stored, sample), nil
	}
	m.misses++

	for i, a := range t.Cells {
		if t.Current[i] == values[i] {
			continue
		}
		if err := wb.WriteCellValue(ctx, a, values[i]); err != nil {
			return nil, host.IOError("write", a, err)
		}
		t.Current[i] = values[i]
		m.writes++
	}
	if err := wb.Recalculate(ctx); err != nil {
		return nil, host.IOError("recalculate", address.Address{}, err)
	}

	stored := make([]string, len(outputs))
	for i, a := range outputs {
		v, err := wb.ReadCellValue(ctx, a)
		if err != nil {
			return nil, host.IOError("read", a, err)
		}
		stored[i] = v
	}
	m.buckets[h] = append(m.buckets[h], entry{key: t.Key, values: slices.Clone(values), outputs: stored})
	return pair(stored, sample), nil
}

func (m *Memo) lookup(h uint64, key string, values []string) ([]string, bool) {
	for _, e := range m.buckets[h] {
		if e.key == key && slices.Equal(e.values, values) {
			return e.outputs, true
		}
	}
	return nil, false
}

func pair(values []string, sample bootstrap.InputSample) []bootstrap.FunctionOutput[string] {
	out := make([]bootstrap.FunctionOutput[string], len(values))
	for i, v := range values {
		out[i] = bootstrap.FunctionOutput[string]{Value: v, Included: sample.Inclusion()}
	}
	return out
}

// hashKey length-prefixes each part so distinct vectors never share a byte
// stream.
func hashKey(key string, values []string) uint64 {
	d := xxhash.New()
	var n [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(s)
	}
	write(key)
	for _, v := range values {
		write(v)
	}
	return d.Sum64()
}
