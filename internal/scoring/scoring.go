// Package scoring turns bootstrap outputs into per-cell suspicion counts.
//
// For each output and input range, every position of the range is tested
// against the draws that left it out: if the original output is an outlier
// among those draws, the cell at that position gets one more rejection.
package scoring

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/bootstrap"
)

const (
	// Alpha is the two-sided rejection level of the numeric test.
	Alpha = 0.05
	// MinFrequency is the frequency below which a categorical output is rare.
	MinFrequency = 0.05
)

// NumericConversionError means an output could not be read as a number. It
// selects the frequency test and is never returned to callers.
type NumericConversionError struct {
	Value string
	Err   error
}

func (e *NumericConversionError) Error() string {
	return fmt.Sprintf("convert %q to number: %v", e.Value, e.Err)
}

func (e *NumericConversionError) Unwrap() error { return e.Err }

// Test decides whether the original output is inconsistent with the outputs
// of the given draws.
type Test interface {
	Reject(draws []int) bool
	Name() string
}

// NumericTest rejects originals outside the central 95% of the draws.
type NumericTest struct {
	Original float64
	Values   []float64
}

func (t *NumericTest) Name() string { return "numeric" }

func (t *NumericTest) Reject(draws []int) bool {
	if len(draws) == 0 {
		return false
	}
	vs := make([]float64, len(draws))
	for i, d := range draws {
		vs[i] = t.Values[d]
	}
	slices.Sort(vs)
	low, high := PercentileBounds(len(vs))
	return t.Original < vs[low] || t.Original > vs[high]
}

// FrequencyTest rejects originals that are rare among the draws.
type FrequencyTest struct {
	Original string
	Values   []string
}

func (t *FrequencyTest) Name() string { return "frequency" }

func (t *FrequencyTest) Reject(draws []int) bool {
	if len(draws) == 0 {
		return false
	}
	seen := 0
	for _, d := range draws {
		if t.Values[d] == t.Original {
			seen++
		}
	}
	return float64(seen)/float64(len(draws)) < MinFrequency
}

// PercentileBounds returns the indexes of the 2.5th and 97.5th percentiles
// of n sorted values, clamped to [0, n-1].
func PercentileBounds(n int) (low, high int) {
	if n <= 0 {
		return 0, 0
	}
	last := float64(n - 1)
	low = int(math.Floor(last * Alpha / 2))
	high = int(math.Ceil(last * (1 - Alpha/2)))
	return min(max(low, 0), n-1), min(max(high, 0), n-1)
}

// SelectTest makes one conversion attempt over the original and every draw:
// numeric if all parse, frequency otherwise.
func SelectTest(original string, draws []bootstrap.FunctionOutput[string]) Test {
	orig, err := toFloat(original)
	if err != nil {
		return frequencyTest(original, draws)
	}
	values := make([]float64, len(draws))
	for i, d := range draws {
		if values[i], err = toFloat(d.Value); err != nil {
			return frequencyTest(original, draws)
		}
	}
	return &NumericTest{Original: orig, Values: values}
}

func frequencyTest(original string, draws []bootstrap.FunctionOutput[string]) Test {
	values := make([]string, len(draws))
	for i, d := range draws {
		values[i] = d.Value
	}
	return &FrequencyTest{Original: original, Values: values}
}

func toFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &NumericConversionError{Value: s, Err: err}
	}
	return f, nil
}

// Excluded returns the indexes of draws whose sample did not include
// position pos.
func Excluded(draws []bootstrap.FunctionOutput[string], pos int) []int {
	var out []int
	for i, d := range draws {
		if d.Excludes(pos) {
			out = append(out, i)
		}
	}
	return out
}

// ScoreColumn tests every position of one input range against one output.
// cells[i] is the address at position i. It returns the number of
// rejections added.
func ScoreColumn(table *Table, cells []address.Address, original string, draws []bootstrap.FunctionOutput[string]) int {
	test := SelectTest(original, draws)
	rejected := 0
	for pos, cell := range cells {
		excluded := Excluded(draws, pos)
		if len(excluded) == 0 || !test.Reject(excluded) {
			table.Register(cell)
			continue
		}
		table.Increment(cell)
		rejected++
	}
	return rejected
}
