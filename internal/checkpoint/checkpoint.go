// Package checkpoint persists and restores the detector's logical state:
// model parameters, calibration temperature, replay contents, and the
// consolidation snapshot and Fisher maps. The on-disk format carries no
// forensic logic and is deliberately a plain JSON blob.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"synthdetect/internal/replay"
)

// State is the serializable detector state.
type State struct {
	Params      map[string][]float64 `json:"params"`
	Temperature float64              `json:"temperature"`
	Replay      []*replay.Sample     `json:"replay"`
	Fisher      map[string][]float64 `json:"fisher,omitempty"`
	Snapshot    map[string][]float64 `json:"snapshot,omitempty"`
}

// Save writes the state to path, creating parent directories as needed.
func Save(path string, st *State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Load reads a state previously written by Save.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return st, nil
}
