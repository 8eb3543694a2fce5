package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// checkpointVersion guards against loading snapshots written by an
// incompatible schema.
const checkpointVersion = 1

type checkpoint struct {
	Version int    `json:"version"`
	State   *State `json:"state"`
}

// SaveState writes a JSON snapshot of the state to path. The file is written
// atomically through a temp file in the same directory.
func SaveState(path string, s *State) error {
	if s == nil {
		return fmt.Errorf("cannot checkpoint a nil state")
	}

	data, err := json.MarshalIndent(checkpoint{Version: checkpointVersion, State: s}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// LoadState reads a snapshot produced by SaveState.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.State == nil {
		return nil, fmt.Errorf("checkpoint contains no state")
	}
	return cp.State, nil
}
