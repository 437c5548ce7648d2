package sessionstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// Fingerprint is a content hash of an input cell and the formulas it feeds.
// A confirmation stays valid only while both are unchanged.
type Fingerprint struct {
	// ValueHash is the SHA-256 of the cell's address and value.
	ValueHash string `json:"value_hash"`
	// FormulaHashes are sorted hashes of the formulas reading the cell.
	FormulaHashes []string `json:"formula_hashes,omitempty"`
	// CompositeHash combines ValueHash and FormulaHashes.
	CompositeHash string `json:"composite_hash"`
}

// ComputeFingerprints fingerprints each cell against the current workbook.
// Cells outside every input range of g get no entry.
func ComputeFingerprints(ctx context.Context, wb host.Workbook, g *depgraph.Graph, cells []address.Address) (map[address.Address]*Fingerprint, error) {
	result := make(map[address.Address]*Fingerprint, len(cells))
	for _, a := range cells {
		in := inputContaining(g, a)
		if in == nil {
			continue
		}
		v, err := wb.ReadCellValue(ctx, a)
		if err != nil {
			return nil, host.IOError("read", a, err)
		}
		fp := &Fingerprint{ValueHash: hashString(a.String() + "\x00" + v)}
		for _, id := range in.Dependents {
			n := g.Node(id)
			fp.FormulaHashes = append(fp.FormulaHashes, hashString(n.Key+"\x00"+n.Formula))
		}
		sort.Strings(fp.FormulaHashes)
		fp.CompositeHash = computeComposite(fp.ValueHash, fp.FormulaHashes)
		result[a] = fp
	}
	return result, nil
}

func inputContaining(g *depgraph.Graph, a address.Address) *depgraph.Node {
	for _, n := range g.TerminalInputs() {
		if n.Range.Contains(a) {
			return n
		}
	}
	return nil
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// computeComposite creates a single hash from the value hash and sorted
// formula hashes.
func computeComposite(valueHash string, formulaHashes []string) string {
	parts := make([]string, 0, 1+len(formulaHashes))
	parts = append(parts, valueHash)
	parts = append(parts, formulaHashes...)
	return hashString(strings.Join(parts, "|"))
}
