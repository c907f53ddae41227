// Package store provides crash-safe ledger persistence using a JSON file.
//
// The session's inventory ledger is stored as a single file (state_file in
// config). Writes use atomic file replacement (write to .tmp, then rename)
// to prevent corruption from partial writes or crashes mid-save. The
// session runner in internal/engine calls Save periodically and when a
// market session ends, and Load when a market session starts, to restore
// inventory state across restarts.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polymarket-mm/internal/strategy"
)

// Store persists the ledger to a single JSON file.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates a store backed by the given state file path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Save atomically persists the ledger snapshot. It writes to a .tmp file
// first, then renames over the target so the file is never left in a
// partial state (crash-safe).
func (s *Store) Save(snap strategy.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load restores the ledger snapshot from disk.
// Returns nil, nil if no saved state exists (fresh session).
func (s *Store) Load() (*strategy.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var snap strategy.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal ledger: %w", err)
	}
	return &snap, nil
}
