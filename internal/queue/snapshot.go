package queue

import (
	"encoding/json"
	"fmt"
	"os"

	fileutil "matchvision/internal/file"
)

// SaveSnapshot atomically writes the current queue contents to path.
func (s *Store) SaveSnapshot(path string) error {
	return fileutil.WriteJSONAtomic(path, s.ListAll()) //nolint:wrapcheck
}

// LoadSnapshot replaces the store contents with the persisted snapshot.
// Items that were mid-flight when the previous process stopped cannot be
// resumed, so they are marked failed with a restart stage.
func (s *Store) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var items []*Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = s.items[:0]
	for _, it := range items {
		switch it.Status {
		case StatusUploading, StatusProcessing, StatusAnalyzing:
			it.Status = StatusFailed
			it.ProcessingStage = StageServiceRestart
			it.ErrorCount++
		}
		s.items = append(s.items, it)
	}
	s.reindexLocked()
	return nil
}
