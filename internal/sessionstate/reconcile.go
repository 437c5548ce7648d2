package sessionstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// ReconcileResult splits saved known-good cells by whether they still hold.
type ReconcileResult struct {
	// Kept cells are unchanged and remain known-good.
	Kept []address.Address `json:"kept"`
	// Changed cells had their value or dependent formulas edited.
	Changed []address.Address `json:"changed"`
	// Missing cells are no longer part of any input range.
	Missing []address.Address `json:"missing"`
}

// Reconcile compares saved known-good fingerprints with the workbook as it
// is now. A nil state reconciles to nothing.
func Reconcile(ctx context.Context, wb host.Workbook, g *depgraph.Graph, prev *SessionState, logger *slog.Logger) (*ReconcileResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	result := &ReconcileResult{}
	if prev == nil {
		return result, nil
	}

	cells := make([]address.Address, len(prev.KnownGood))
	for i, e := range prev.KnownGood {
		cells[i] = e.Cell
	}
	current, err := ComputeFingerprints(ctx, wb, g, cells)
	if err != nil {
		return nil, fmt.Errorf("fingerprint known-good cells: %w", err)
	}

	for _, e := range prev.KnownGood {
		fp, ok := current[e.Cell]
		switch {
		case !ok:
			result.Missing = append(result.Missing, e.Cell)
		case e.Fingerprint == nil || fp.CompositeHash != e.Fingerprint.CompositeHash:
			result.Changed = append(result.Changed, e.Cell)
		default:
			result.Kept = append(result.Kept, e.Cell)
		}
	}

	logger.Info("session state reconciled",
		"workbook", prev.Workbook,
		"kept", len(result.Kept),
		"changed", len(result.Changed),
		"missing", len(result.Missing),
	)
	return result, nil
}
