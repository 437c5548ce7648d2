package tui

import (
	"context"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// Auditor is the audit workflow the review screen drives. *audit.Session
// satisfies it.
type Auditor interface {
	Flag(ctx context.Context) (address.Address, error)
	MarkAsOK(ctx context.Context) (address.Address, error)
	FixError(ctx context.Context, value string) (address.Address, error)
	ResetTool(ctx context.Context) error
	Flaggable() []scoring.Score
	Result() *analysis.Result
}

// ReviewStatus is the reviewer's decision on a flagged cell
type ReviewStatus int

const (
	ReviewPending ReviewStatus = iota
	ReviewMarkedOK
	ReviewFixed
)

// String returns the string representation of ReviewStatus
func (s ReviewStatus) String() string {
	switch s {
	case ReviewPending:
		return "pending"
	case ReviewMarkedOK:
		return "marked_ok"
	case ReviewFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// ReviewItem is one cell the workflow flagged
type ReviewItem struct {
	Cell       address.Address
	Score      int
	Normalized float64 // 0-1 within the pass that flagged it
	Value      string  // value when flagged
	FixedValue string
	Status     ReviewStatus
	DecidedAt  time.Time
}

// ReviewSession records every flag and decision of one review run
type ReviewSession struct {
	Workbook     string
	Items        []*ReviewItem
	NoBugsRemain bool
	Reset        bool
	CreatedAt    time.Time
}

// NewReviewSession creates an empty session for workbook
func NewReviewSession(workbook string) *ReviewSession {
	return &ReviewSession{
		Workbook:  workbook,
		Items:     make([]*ReviewItem, 0),
		CreatedAt: time.Now(),
	}
}

// Current returns the item awaiting a decision, or nil.
func (s *ReviewSession) Current() *ReviewItem {
	if len(s.Items) == 0 {
		return nil
	}
	last := s.Items[len(s.Items)-1]
	if last.Status != ReviewPending {
		return nil
	}
	return last
}

func (s *ReviewSession) decide(status ReviewStatus, fixed string) *ReviewItem {
	item := s.Current()
	if item == nil {
		return nil
	}
	item.Status = status
	item.FixedValue = fixed
	item.DecidedAt = time.Now()
	return item
}

// ReviewCounts tallies decisions by status
type ReviewCounts struct {
	Total    int `json:"total"`
	MarkedOK int `json:"marked_ok"`
	Fixed    int `json:"fixed"`
	Pending  int `json:"pending"`
}

// Counts tallies the session's items.
func (s *ReviewSession) Counts() ReviewCounts {
	c := ReviewCounts{Total: len(s.Items)}
	for _, item := range s.Items {
		switch item.Status {
		case ReviewMarkedOK:
			c.MarkedOK++
		case ReviewFixed:
			c.Fixed++
		case ReviewPending:
			c.Pending++
		}
	}
	return c
}

// normalizedScore looks a up in the pass's normalized scores.
func normalizedScore(res *analysis.Result, a address.Address) float64 {
	if res == nil || res.Scores == nil {
		return 0
	}
	for _, n := range res.Scores.Normalize() {
		if n.Address == a {
			return n.Value
		}
	}
	return 0
}
