package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/graphstore"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// Neo4jRepository implements graphstore.Repository using Neo4j.
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver}, nil
}

type statement struct {
	query  string
	params map[string]any
}

const (
	clearWorkbook = "MATCH (n:Range {workbook: $workbook}) DETACH DELETE n"
	mergeRange    = "MERGE (n:Range {workbook: $workbook, key: $key}) " +
		"SET n.sheet = $sheet, n.kind = $kind, n.formula = $formula, n.weight = $weight, n.cells = $cells, n.unparsed = $unparsed"
	mergeEdge = "MATCH (a:Range {workbook: $workbook, key: $dep}) " +
		"MATCH (b:Range {workbook: $workbook, key: $dependent}) " +
		"MERGE (a)-[:FEEDS]->(b)"
	mergeCell = "MERGE (c:Cell {workbook: $workbook, address: $address}) " +
		"SET c.score = $score, c.rank = $rank"
	dependentsQuery = "MATCH (:Range {workbook: $workbook, key: $key})-[:FEEDS*1..]->(d:Range) " +
		"RETURN DISTINCT d.key AS key ORDER BY key"
)

// graphStatements renders a graph as the Cypher writes that store it.
func graphStatements(workbook string, g *depgraph.Graph) []statement {
	stmts := []statement{{query: clearWorkbook, params: map[string]any{"workbook": workbook}}}
	for _, id := range g.TopologicalOrder() {
		n := g.Node(id)
		stmts = append(stmts, statement{query: mergeRange, params: map[string]any{
			"workbook": workbook,
			"key":      n.Key,
			"sheet":    n.Range.Sheet(),
			"kind":     n.Kind.String(),
			"formula":  n.Formula,
			"weight":   n.Weight,
			"cells":    n.Len(),
			"unparsed": n.Unparsed,
		}})
	}
	for _, id := range g.TopologicalOrder() {
		n := g.Node(id)
		for _, dep := range n.Deps {
			stmts = append(stmts, statement{query: mergeEdge, params: map[string]any{
				"workbook":  workbook,
				"dep":       g.Node(dep).Key,
				"dependent": n.Key,
			}})
		}
	}
	return stmts
}

func scoreStatements(workbook string, scores []scoring.Score) []statement {
	stmts := make([]statement, 0, len(scores))
	for i, s := range scores {
		stmts = append(stmts, statement{query: mergeCell, params: map[string]any{
			"workbook": workbook,
			"address":  s.Address.String(),
			"score":    s.Count,
			"rank":     i + 1,
		}})
	}
	return stmts
}

func (r *Neo4jRepository) write(ctx context.Context, stmts []statement) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			if _, err := tx.Run(ctx, st.query, st.params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (r *Neo4jRepository) StoreGraph(ctx context.Context, workbook string, g *depgraph.Graph) error {
	if err := r.write(ctx, graphStatements(workbook, g)); err != nil {
		return fmt.Errorf("store graph %s: %w", workbook, err)
	}
	return nil
}

func (r *Neo4jRepository) StoreScores(ctx context.Context, workbook string, scores []scoring.Score) error {
	if err := r.write(ctx, scoreStatements(workbook, scores)); err != nil {
		return fmt.Errorf("store scores %s: %w", workbook, err)
	}
	return nil
}

func (r *Neo4jRepository) QueryDependents(ctx context.Context, workbook, key string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, dependentsQuery, map[string]any{"workbook": workbook, "key": key})
		if err != nil {
			return nil, err
		}
		var keys []string
		for records.Next(ctx) {
			k, _ := records.Record().Get("key")
			keys = append(keys, k.(string))
		}
		return keys, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Ping verifies the driver can still reach the server.
func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graphstore.Repository = (*Neo4jRepository)(nil)
