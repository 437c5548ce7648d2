// Package audit drives the interactive review of a workbook: analyze, flag the
// most suspicious input cell, and let the user accept or correct it until no
// suspicious cells remain.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/host"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

var (
	// ErrNoBugsRemain is returned by Flag when every flaggable cell has been
	// reviewed. The session has been reset to Idle.
	ErrNoBugsRemain = errors.New("no bugs remain")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// DefaultSignificance is the share of ranked cells treated as unremarkable.
const DefaultSignificance = 0.95

// State is the workflow position of a session.
type State int

const (
	Idle State = iota
	Analyzed
	Flagged
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzed:
		return "analyzed"
	case Flagged:
		return "flagged"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	Analysis     analysis.Options
	Significance float64
	// ShadeScores paints every scored cell by its normalized score after
	// each analysis.
	ShadeScores bool

	Logger  *slog.Logger
	Audit   *observability.AuditLogger
	Metrics *observability.AuditMetrics
}

// DefaultOptions returns the standard workflow settings.
func DefaultOptions() Options {
	return Options{
		Analysis:     analysis.DefaultOptions(),
		Significance: DefaultSignificance,
	}
}

// Session is the audit state of one workbook. Every operation holds the
// session lock for its whole duration, so at most one pass runs at a time.
type Session struct {
	mu      sync.Mutex
	wb      host.Workbook
	display host.Display
	opts    Options
	logger  *slog.Logger

	state     State
	graph     *depgraph.Graph
	result    *analysis.Result
	flaggable []scoring.Score
	flagged   address.Address

	knownGood map[address.Address]bool
	goodOrder []address.Address

	// original display attribute of every cell the session has painted
	saved      map[address.Address]host.Attr
	savedOrder []address.Address
}

// New returns an Idle session over wb. When wb also implements host.Display
// the session paints flagged, known-good and shaded cells.
func New(wb host.Workbook, opts Options) *Session {
	if opts.Significance <= 0 || opts.Significance > 1 {
		opts.Significance = DefaultSignificance
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Analysis.Logger == nil {
		opts.Analysis.Logger = logger
	}
	if opts.Analysis.Metrics == nil {
		opts.Analysis.Metrics = opts.Metrics
	}
	s := &Session{
		wb:        wb,
		opts:      opts,
		logger:    logger,
		knownGood: make(map[address.Address]bool),
		saved:     make(map[address.Address]host.Attr),
	}
	if d, ok := wb.(host.Display); ok {
		s.display = d
	}
	return s
}

// State returns the current workflow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Flagged returns the cell under review, if any.
func (s *Session) Flagged() (address.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flagged, s.state == Flagged
}

// Result returns the last analysis pass, or nil.
func (s *Session) Result() *analysis.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Flaggable returns the cells still queued for review, highest score first.
func (s *Session) Flaggable() []scoring.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scoring.Score, 0, len(s.flaggable))
	for _, sc := range s.flaggable {
		if !s.knownGood[sc.Address] {
			out = append(out, sc)
		}
	}
	return out
}

// KnownGood returns the cells confirmed as correct, in confirmation order.
func (s *Session) KnownGood() []address.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]address.Address(nil), s.goodOrder...)
}

// SetKnownGood seeds the known-good set, typically from a saved session.
// Only allowed while Idle.
func (s *Session) SetKnownGood(cells []address.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: set known-good in state %s", ErrInvalidTransition, s.state)
	}
	for _, a := range cells {
		s.addKnownGood(a)
	}
	return nil
}

// Analyze rebuilds the dependency graph, runs a pass bounded by budget and
// computes the flaggable set. A zero budget uses the configured one. A graph
// build failure leaves the session untouched.
func (s *Session) Analyze(ctx context.Context, budget time.Duration) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartAuditSpan(ctx, "analyze")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if s.state == Flagged {
		return fmt.Errorf("%w: analyze in state %s", ErrInvalidTransition, s.state)
	}
	return s.analyze(ctx, budget)
}

func (s *Session) analyze(ctx context.Context, budget time.Duration) error {
	start := time.Now()
	opts := s.opts.Analysis
	if budget > 0 {
		opts.Budget = budget
	}

	g, err := depgraph.Build(ctx, s.wb, depgraph.Options{
		IgnoreParseErrors: opts.IgnoreParseErrors,
		Parser:            opts.Parser,
		Logger:            s.logger,
	})
	if err != nil {
		err = fmt.Errorf("build graph: %w", err)
		s.opts.Audit.LogError(ctx, "analyze", err)
		return err
	}

	if err := s.restoreHighlights(ctx); err != nil {
		return err
	}
	s.graph = g
	s.flaggable = nil
	s.state = Idle

	res, err := analysis.RunGraph(ctx, s.wb, g, opts)
	if err != nil {
		if errors.Is(err, analysis.ErrNoApplicableInputs) {
			s.logger.Info("workbook has no vector inputs")
		}
		s.opts.Audit.LogError(ctx, "analyze", err)
		return err
	}
	s.result = res
	s.flaggable = Threshold(res.Ranked, s.opts.Significance, s.knownGood)

	if s.opts.ShadeScores {
		if err := s.shade(ctx, res.Scores); err != nil {
			return err
		}
	}

	s.state = Analyzed
	s.logger.Info("analysis complete", "scored", len(res.Ranked), "flaggable", len(s.flaggable), "truncated", res.Truncated)
	s.opts.Audit.LogAnalyze(ctx, time.Since(start), len(res.Ranked), len(s.flaggable), res.Truncated)
	return nil
}

// Threshold returns the cells of a descending ranking that reach the score at
// index N − round(N·significance), minus known-good cells and zero scores.
func Threshold(ranked []scoring.Score, significance float64, knownGood map[address.Address]bool) []scoring.Score {
	n := len(ranked)
	if n == 0 {
		return nil
	}
	thresh := n - int(math.RoundToEven(float64(n)*significance))
	thresh = min(max(thresh, 0), n-1)
	cut := ranked[thresh].Count

	var out []scoring.Score
	for _, sc := range ranked {
		if sc.Count < cut || sc.Count == 0 || knownGood[sc.Address] {
			continue
		}
		out = append(out, sc)
	}
	return out
}

// Flag selects the highest-scoring cell not yet confirmed and paints it as
// suspicious. With nothing left it resets the session and returns
// ErrNoBugsRemain.
func (s *Session) Flag(ctx context.Context) (addr address.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartAuditSpan(ctx, "flag")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if s.state != Analyzed && s.state != Flagged {
		return address.Address{}, fmt.Errorf("%w: flag in state %s", ErrInvalidTransition, s.state)
	}
	return s.flag(ctx)
}

func (s *Session) flag(ctx context.Context) (address.Address, error) {
	remaining := s.flaggable[:0]
	for _, sc := range s.flaggable {
		if !s.knownGood[sc.Address] {
			remaining = append(remaining, sc)
		}
	}
	s.flaggable = remaining

	if len(s.flaggable) == 0 {
		if err := s.reset(ctx); err != nil {
			return address.Address{}, err
		}
		s.opts.Audit.LogNoBugs(ctx)
		return address.Address{}, ErrNoBugsRemain
	}

	if s.state == Flagged && s.flagged != s.flaggable[0].Address {
		if err := s.restore(ctx, s.flagged); err != nil {
			return address.Address{}, err
		}
	}
	head := s.flaggable[0]
	if err := s.paint(ctx, head.Address, host.Suspicious); err != nil {
		return address.Address{}, err
	}
	s.flagged = head.Address
	s.state = Flagged

	s.logger.Info("flagged cell", "cell", head.Address, "score", head.Count)
	s.opts.Audit.LogFlag(ctx, head.Address.String(), head.Count)
	if s.opts.Metrics != nil {
		s.opts.Metrics.FlagsTotal.Inc()
	}
	return head.Address, nil
}

// MarkAsOK confirms the flagged cell as correct and flags the next one.
func (s *Session) MarkAsOK(ctx context.Context) (next address.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartAuditSpan(ctx, "mark_ok")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if s.state != Flagged {
		return address.Address{}, fmt.Errorf("%w: mark as OK in state %s", ErrInvalidTransition, s.state)
	}
	cell := s.flagged
	s.addKnownGood(cell)
	s.opts.Audit.LogMarkOK(ctx, cell.String())
	if s.opts.Metrics != nil {
		s.opts.Metrics.MarkedOKTotal.Inc()
	}

	if err := s.restoreHighlights(ctx); err != nil {
		return address.Address{}, err
	}
	s.flagged = address.Address{}
	s.state = Analyzed
	return s.flag(ctx)
}

// FixError writes a correction to the flagged cell, confirms it, then
// re-analyzes and flags the next candidate. When re-analysis fails the
// session is left unflagged with the known-good set intact.
func (s *Session) FixError(ctx context.Context, value string) (next address.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartAuditSpan(ctx, "fix")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if s.state != Flagged {
		return address.Address{}, fmt.Errorf("%w: fix in state %s", ErrInvalidTransition, s.state)
	}
	cell := s.flagged
	old, err := s.wb.ReadCellValue(ctx, cell)
	if err != nil {
		return address.Address{}, host.IOError("read", cell, err)
	}
	if err := s.wb.WriteCellValue(ctx, cell, value); err != nil {
		return address.Address{}, host.IOError("write", cell, err)
	}
	if err := s.wb.Recalculate(ctx); err != nil {
		return address.Address{}, host.IOError("recalculate", address.Address{}, err)
	}
	s.addKnownGood(cell)
	s.opts.Audit.LogFix(ctx, cell.String(), old, value)
	if s.opts.Metrics != nil {
		s.opts.Metrics.FixesTotal.Inc()
	}

	s.flagged = address.Address{}
	s.state = Idle
	if err := s.restoreHighlights(ctx); err != nil {
		return address.Address{}, err
	}
	if err := s.analyze(ctx, 0); err != nil {
		return address.Address{}, err
	}
	return s.flag(ctx)
}

// ResetTool restores every painted cell, forgets the known-good set and
// returns to Idle.
func (s *Session) ResetTool(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartAuditSpan(ctx, "reset")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()
	return s.reset(ctx)
}

func (s *Session) reset(ctx context.Context) error {
	restored := len(s.saved)
	for _, a := range s.savedOrder {
		if err := s.setAttr(ctx, a, s.saved[a]); err != nil {
			return err
		}
	}
	clear(s.saved)
	s.savedOrder = s.savedOrder[:0]
	clear(s.knownGood)
	s.goodOrder = s.goodOrder[:0]
	s.flaggable = nil
	s.flagged = address.Address{}
	s.state = Idle

	s.opts.Audit.LogReset(ctx, restored)
	if s.opts.Metrics != nil {
		s.opts.Metrics.KnownGoodGauge.Set(0)
	}
	return nil
}

func (s *Session) addKnownGood(a address.Address) {
	if s.knownGood[a] {
		return
	}
	s.knownGood[a] = true
	s.goodOrder = append(s.goodOrder, a)
	if s.opts.Metrics != nil {
		s.opts.Metrics.KnownGoodGauge.Set(float64(len(s.goodOrder)))
	}
}

// paint saves a's original attribute on first touch and applies attr.
func (s *Session) paint(ctx context.Context, a address.Address, attr host.Attr) error {
	if s.display == nil {
		return nil
	}
	if _, ok := s.saved[a]; !ok {
		orig, err := s.display.GetDisplayAttribute(ctx, a)
		if err != nil {
			return host.IOError("read display", a, err)
		}
		s.saved[a] = orig
		s.savedOrder = append(s.savedOrder, a)
	}
	return s.setAttr(ctx, a, attr)
}

// restore puts back a's original attribute.
func (s *Session) restore(ctx context.Context, a address.Address) error {
	orig, ok := s.saved[a]
	if !ok {
		return nil
	}
	if err := s.setAttr(ctx, a, orig); err != nil {
		return err
	}
	delete(s.saved, a)
	for i, b := range s.savedOrder {
		if b == a {
			s.savedOrder = append(s.savedOrder[:i], s.savedOrder[i+1:]...)
			break
		}
	}
	return nil
}

// restoreHighlights undoes flag and shade painting. Known-good cells keep
// their marker until ResetTool.
func (s *Session) restoreHighlights(ctx context.Context) error {
	for _, a := range append([]address.Address(nil), s.savedOrder...) {
		if s.knownGood[a] {
			if err := s.setAttr(ctx, a, host.KnownGood); err != nil {
				return err
			}
			continue
		}
		if err := s.restore(ctx, a); err != nil {
			return err
		}
	}
	for _, a := range s.goodOrder {
		if err := s.paint(ctx, a, host.KnownGood); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) shade(ctx context.Context, t *scoring.Table) error {
	shades := t.Shades()
	for _, sc := range t.Entries() {
		if s.knownGood[sc.Address] {
			continue
		}
		if err := s.paint(ctx, sc.Address, host.Attr{Fill: shades[sc.Address]}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) setAttr(ctx context.Context, a address.Address, attr host.Attr) error {
	if s.display == nil {
		return nil
	}
	if err := s.display.SetDisplayAttribute(ctx, a, attr); err != nil {
		return host.IOError("write display", a, err)
	}
	return nil
}
