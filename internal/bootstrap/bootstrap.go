// Package bootstrap draws resamples-with-replacement of input ranges and
// holds the outputs they produce.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

// ErrNotClosed means a resample produced a value absent from the original.
var ErrNotClosed = errors.New("resample not closed over original values")

// InputSample is an ordered list of values and the set of original positions
// that were drawn to produce it.
type InputSample struct {
	values   []string
	included *bitset.BitSet
}

// NewSample wraps original values; every position counts as included.
func NewSample(values []string) InputSample {
	inc := bitset.New(uint(len(values)))
	for i := range values {
		inc.Set(uint(i))
	}
	return InputSample{values: values, included: inc}
}

func (s InputSample) Len() int { return len(s.values) }

// Values returns the sample's values. Callers must not modify the slice.
func (s InputSample) Values() []string { return s.values }

// Value returns the value at position i.
func (s InputSample) Value(i int) string { return s.values[i] }

// Includes reports whether original position i was drawn.
func (s InputSample) Includes(i int) bool { return s.included.Test(uint(i)) }

// Inclusion returns the inclusion set. Callers must not modify it.
func (s InputSample) Inclusion() *bitset.BitSet { return s.included }

// Resample draws count samples of original.Len() values uniformly with
// replacement.
func Resample(count int, original InputSample, rng *rand.Rand) ([]InputSample, error) {
	n := original.Len()
	present := make(map[string]struct{}, n)
	for _, v := range original.values {
		present[v] = struct{}{}
	}

	out := make([]InputSample, count)
	for d := range out {
		values := make([]string, n)
		inc := bitset.New(uint(n))
		for i := range values {
			pos := rng.IntN(n)
			values[i] = original.values[pos]
			inc.Set(uint(pos))
		}
		for _, v := range values {
			if _, ok := present[v]; !ok {
				return nil, fmt.Errorf("%w: draw %d produced %q", ErrNotClosed, d, v)
			}
		}
		out[d] = InputSample{values: values, included: inc}
	}
	return out, nil
}

// NewRand returns the PCG stream for one input range. Streams depend only on
// seed and index, so parallel generation is reproducible.
func NewRand(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(index)))
}

// ResampleAll generates count resamples for every original in parallel.
// The result is indexed [range][draw].
func ResampleAll(ctx context.Context, originals []InputSample, count int, seed uint64) ([][]InputSample, error) {
	out := make([][]InputSample, len(originals))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, orig := range originals {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			samples, err := Resample(count, orig, NewRand(seed, i))
			if err != nil {
				return fmt.Errorf("range %d: %w", i, err)
			}
			out[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FunctionOutput is one output value and the inclusion set of the sample
// that produced it.
type FunctionOutput[T any] struct {
	Value    T
	Included *bitset.BitSet
}

// Excludes reports whether original position i was absent from the draw.
func (o FunctionOutput[T]) Excludes(i int) bool {
	return !o.Included.Test(uint(i))
}

// Set holds outputs indexed by (output, input range, draw) plus the number
// of draws completed per range.
type Set struct {
	draws     int
	entries   [][][]FunctionOutput[string]
	completed []int
}

// NewSet allocates storage for the given dimensions.
func NewSet(outputs, ranges, draws int) *Set {
	entries := make([][][]FunctionOutput[string], outputs)
	for o := range entries {
		entries[o] = make([][]FunctionOutput[string], ranges)
		for r := range entries[o] {
			entries[o][r] = make([]FunctionOutput[string], draws)
		}
	}
	return &Set{draws: draws, entries: entries, completed: make([]int, ranges)}
}

// Put stores the outputs of one draw of range r, one per output, and marks
// the draw completed.
func (s *Set) Put(r, draw int, outputs []FunctionOutput[string]) {
	for o, fo := range outputs {
		s.entries[o][r][draw] = fo
	}
	if draw+1 > s.completed[r] {
		s.completed[r] = draw + 1
	}
}

// Draws returns the completed draws of output o for range r.
func (s *Set) Draws(o, r int) []FunctionOutput[string] {
	return s.entries[o][r][:s.completed[r]]
}

// Completed returns how many draws of range r finished.
func (s *Set) Completed(r int) int { return s.completed[r] }

// Requested returns the number of draws per range the set was sized for.
func (s *Set) Requested() int { return s.draws }

// Truncated reports whether any range finished fewer draws than requested.
func (s *Set) Truncated() bool {
	for _, c := range s.completed {
		if c < s.draws {
			return true
		}
	}
	return false
}
