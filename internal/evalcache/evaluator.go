package evalcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/bootstrap"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// Stop explains why Run returned before evaluating every draw.
type Stop int

const (
	Completed Stop = iota
	Deadline
	Cancelled
)

func (s Stop) String() string {
	switch s {
	case Completed:
		return "completed"
	case Deadline:
		return "deadline"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Range is one input range to resample.
type Range struct {
	Key      string
	Cells    []address.Address
	Original bootstrap.InputSample
}

// Evaluator runs every draw of every range through the host.
type Evaluator struct {
	wb       host.Workbook
	memo     *Memo
	progress host.Progress
	deadline time.Time
	logger   *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithProgress reports one tick per evaluated draw and polls cancellation.
func WithProgress(p host.Progress) Option {
	return func(e *Evaluator) {
		if p != nil {
			e.progress = p
		}
	}
}

// WithDeadline stops starting new draws after t.
func WithDeadline(t time.Time) Option {
	return func(e *Evaluator) { e.deadline = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator returns an evaluator with a fresh memo.
func NewEvaluator(wb host.Workbook, opts ...Option) *Evaluator {
	e := &Evaluator{
		wb:       wb,
		memo:     New(),
		progress: host.NopProgress{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Memo returns the evaluator's memo, for hit and miss counts.
func (e *Evaluator) Memo() *Memo { return e.memo }

// Run evaluates samples[r][d] for each range r and stores the outputs in set.
// Each range's original values are restored once after its draws, including
// when Run stops early or fails. A host failure is returned as a
// *host.HostIOError after a best-effort restore.
func (e *Evaluator) Run(ctx context.Context, ranges []Range, samples [][]bootstrap.InputSample, outputs []address.Address, set *bootstrap.Set) (Stop, error) {
	total := 0
	for _, s := range samples {
		total += len(s)
	}
	current := 0

	for r, rng := range ranges {
		t := NewTarget(rng.Key, rng.Cells, rng.Original.Values())
		for d, sample := range samples[r] {
			if stop := e.check(ctx); stop != Completed {
				e.logger.Info("evaluation stopped early", "reason", stop.String(), "range", rng.Key, "draw", d)
				if err := e.restore(ctx, t, rng.Original); err != nil {
					return stop, err
				}
				return stop, nil
			}

			outs, err := e.memo.FastReplace(ctx, e.wb, t, sample, outputs)
			if err != nil {
				if rerr := e.restore(ctx, t, rng.Original); rerr != nil {
					e.logger.Error("restore after host failure", "range", rng.Key, "error", rerr)
				}
				return Completed, err
			}
			set.Put(r, d, outs)
			current++
			e.progress.ReportProgress(current, total)
		}
		if err := e.restore(ctx, t, rng.Original); err != nil {
			return Completed, err
		}
	}
	return Completed, nil
}

func (e *Evaluator) check(ctx context.Context) Stop {
	if ctx.Err() != nil || e.progress.IsCancelled() {
		return Cancelled
	}
	if !e.deadline.IsZero() && !time.Now().Before(e.deadline) {
		return Deadline
	}
	return Completed
}

// restore writes back every cell that differs from the original and
// recalculates. It ignores ctx cancellation so the host is never left
// substituted.
func (e *Evaluator) restore(ctx context.Context, t *Target, original bootstrap.InputSample) error {
	ctx = context.WithoutCancel(ctx)
	dirty := false
	for i, a := range t.Cells {
		want := original.Value(i)
		if t.Current[i] == want {
			continue
		}
		if err := e.wb.WriteCellValue(ctx, a, want); err != nil {
			return host.IOError("write", a, err)
		}
		t.Current[i] = want
		dirty = true
	}
	if !dirty {
		return nil
	}
	if err := e.wb.Recalculate(ctx); err != nil {
		return host.IOError("recalculate", address.Address{}, err)
	}
	return nil
}
