package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore implements Store using local file storage.
// This is suitable for single-instance deployments.
type LocalStore struct {
	mu       sync.RWMutex
	filePath string
}

// NewLocalStore creates a new local file-based store.
func NewLocalStore(filePath string) *LocalStore {
	return &LocalStore{filePath: filePath}
}

// Get retrieves the snapshot from the local file.
func (s *LocalStore) Get(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No snapshot file yet, not an error
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, nil // Incompatible layout; start fresh
	}

	return &snap, nil
}

// Set stores the snapshot to the local file.
func (s *LocalStore) Set(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write atomically using temp file + rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}

	return nil
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
