// Package graphstore persists dependency graphs and score rankings so they
// can be queried outside a session.
package graphstore

import (
	"context"

	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// Repository provides graph storage for analyzed workbooks.
type Repository interface {
	// StoreGraph replaces the stored graph of a workbook.
	StoreGraph(ctx context.Context, workbook string, g *depgraph.Graph) error
	// StoreScores attaches the latest scores to the workbook's input cells.
	StoreScores(ctx context.Context, workbook string, scores []scoring.Score) error
	// QueryDependents returns the keys of every node that transitively
	// depends on the node with the given key.
	QueryDependents(ctx context.Context, workbook, key string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
