// Package sessionstate saves the reviewed part of an audit session next to
// the workbook so a later session can skip cells already confirmed.
package sessionstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/host"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// SessionState is the persisted review state of one workbook.
type SessionState struct {
	// Version for schema compatibility
	Version string `json:"version"`
	// Timestamp of last save
	LastRun  time.Time `json:"last_run"`
	Workbook string    `json:"workbook"`
	// KnownGood lists confirmed cells in confirmation order.
	KnownGood []KnownGoodEntry `json:"known_good"`
	// Scores is the last ranking, highest first.
	Scores []ScoreEntry `json:"scores,omitempty"`
}

type KnownGoodEntry struct {
	Cell        address.Address `json:"cell"`
	Fingerprint *Fingerprint    `json:"fingerprint"`
}

type ScoreEntry struct {
	Cell  address.Address `json:"cell"`
	Score int             `json:"score"`
}

const stateVersion = "1.0.0"

// ErrVersion is returned when a state file has an unknown schema version.
var ErrVersion = errors.New("unsupported session state version")

// StatePath returns the state file stored beside a workbook.
func StatePath(workbookPath string) string {
	dir, base := filepath.Split(workbookPath)
	return filepath.Join(dir, "."+base+".cellaudit.json")
}

// Capture fingerprints the known-good cells against the current workbook
// and records the ranking.
func Capture(ctx context.Context, wb host.Workbook, g *depgraph.Graph, workbook string, knownGood []address.Address, ranked []scoring.Score) (*SessionState, error) {
	fps, err := ComputeFingerprints(ctx, wb, g, knownGood)
	if err != nil {
		return nil, err
	}
	s := &SessionState{Version: stateVersion, LastRun: time.Now(), Workbook: workbook}
	for _, a := range knownGood {
		if fp, ok := fps[a]; ok {
			s.KnownGood = append(s.KnownGood, KnownGoodEntry{Cell: a, Fingerprint: fp})
		}
	}
	for _, sc := range ranked {
		s.Scores = append(s.Scores, ScoreEntry{Cell: sc.Address, Score: sc.Count})
	}
	return s, nil
}

// LoadState loads session state from path.
// Returns nil (no error) if no state file exists (first run).
func LoadState(path string) (*SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("%w: %q", ErrVersion, state.Version)
	}
	return &state, nil
}

// Save persists the state to path.
func (s *SessionState) Save(path string) error {
	s.LastRun = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
