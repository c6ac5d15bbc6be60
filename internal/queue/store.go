package queue

import (
	"sync"
)

// Store is the single source of truth for the ordered list of queue items.
// Insertion order is newest first. All mutation goes through the exported
// methods; callers never hold a reference into the backing slice.
type Store struct {
	mu    sync.Mutex
	items []*Item
	index map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Enqueue prepends a new item. Returns ErrDuplicateID when the id is already
// tracked; the id generation scheme should make that impossible, but the
// invariant is guarded regardless.
func (s *Store) Enqueue(item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[item.ID]; exists {
		return ErrDuplicateID
	}
	s.items = append([]*Item{item.Clone()}, s.items...)
	s.reindexLocked()
	return nil
}

// UpdateByID applies patch to the item matching id. The patch runs under the
// store lock against the current item state, so concurrent updaters never
// operate on stale snapshots and no partial patch is ever observable.
// Absence is a legitimate race with removal and is a no-op.
func (s *Store) UpdateByID(id string, patch func(*Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return
	}
	patch(s.items[pos])
	if s.items[pos].Progress < 0 {
		s.items[pos].Progress = 0
	}
	if s.items[pos].Progress > 100 {
		s.items[pos].Progress = 100
	}
}

// RemoveByID deletes the item if present, no-op otherwise.
func (s *Store) RemoveByID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	s.reindexLocked()
}

// GetByID returns a copy of the item, or false when absent.
func (s *Store) GetByID(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[pos].Clone(), true
}

// ListAll returns a deep-copied snapshot, newest first.
func (s *Store) ListAll() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

// Len reports the number of tracked items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, it := range s.items {
		s.index[it.ID] = i
	}
}
