package queue

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newItem(id string) *Item {
	return &Item{
		ID:           id,
		Name:         id + ".mp4",
		AnalysisType: TypeHighlights,
		Status:       StatusQueued,
		Priority:     PriorityLow,
		UploadTime:   time.Now(),
	}
}

func TestEnqueueOrderAndDuplicate(t *testing.T) {
	s := NewStore()
	if err := s.Enqueue(newItem("a")); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := s.Enqueue(newItem("b")); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if err := s.Enqueue(newItem("a")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	items := s.ListAll()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "b" || items[1].ID != "a" {
		t.Fatalf("expected newest first [b a], got [%s %s]", items[0].ID, items[1].ID)
	}
}

func TestUpdateByIDAppliesAndClamps(t *testing.T) {
	s := NewStore()
	if err := s.Enqueue(newItem("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	s.UpdateByID("a", func(it *Item) { it.Progress = 250 })
	got, ok := s.GetByID("a")
	if !ok {
		t.Fatalf("item missing")
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", got.Progress)
	}

	// absent id is a legitimate race with removal: must not panic or mutate
	s.UpdateByID("missing", func(it *Item) { it.Progress = 1 })
}

func TestUpdatePatchSeesCurrentState(t *testing.T) {
	s := NewStore()
	if err := s.Enqueue(newItem("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateByID("a", func(it *Item) { it.RetryCount++ })
		}()
	}
	wg.Wait()

	got, _ := s.GetByID("a")
	if got.RetryCount != 50 {
		t.Fatalf("lost updates: expected 50 increments, got %d", got.RetryCount)
	}
}

func TestRemoveByID(t *testing.T) {
	s := NewStore()
	_ = s.Enqueue(newItem("a"))
	_ = s.Enqueue(newItem("b"))

	s.RemoveByID("a")
	s.RemoveByID("a") // no-op
	if _, ok := s.GetByID("a"); ok {
		t.Fatalf("expected a removed")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", s.Len())
	}
}

func TestListAllReturnsIsolatedSnapshot(t *testing.T) {
	s := NewStore()
	_ = s.Enqueue(newItem("a"))

	snap := s.ListAll()
	snap[0].Progress = 99
	snap[0].Status = StatusFailed

	got, _ := s.GetByID("a")
	if got.Progress != 0 || got.Status != StatusQueued {
		t.Fatalf("snapshot mutation leaked into store: %+v", got)
	}
}

func TestSnapshotRoundTripFailsInFlightItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	s := NewStore()
	inFlight := newItem("mid")
	inFlight.Status = StatusAnalyzing
	inFlight.Progress = 40
	_ = s.Enqueue(inFlight)

	done := newItem("done")
	done.Status = StatusCompleted
	done.Progress = 100
	now := time.Now()
	done.CompletedTime = &now
	_ = s.Enqueue(done)

	if err := s.SaveSnapshot(path); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	restored := NewStore()
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	mid, ok := restored.GetByID("mid")
	if !ok || mid.Status != StatusFailed || mid.ProcessingStage != StageServiceRestart {
		t.Fatalf("expected in-flight item failed on restore, got %+v", mid)
	}
	if mid.ErrorCount != 1 {
		t.Fatalf("expected error count bumped, got %d", mid.ErrorCount)
	}
	fin, ok := restored.GetByID("done")
	if !ok || fin.Status != StatusCompleted || fin.CompletedTime == nil {
		t.Fatalf("completed item should survive restore intact, got %+v", fin)
	}
}

func TestLoadSnapshotMissingFileIsNoop(t *testing.T) {
	s := NewStore()
	if err := s.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestCompletionInvariant(t *testing.T) {
	s := NewStore()
	_ = s.Enqueue(newItem("a"))
	now := time.Now()
	s.UpdateByID("a", func(it *Item) {
		it.Status = StatusCompleted
		it.Progress = 100
		it.CompletedTime = &now
	})

	for _, it := range s.ListAll() {
		hasTime := it.CompletedTime != nil
		isCompleted := it.Status == StatusCompleted
		if hasTime != isCompleted {
			t.Fatalf("completion invariant broken on %s: completedTime=%v status=%s", it.ID, hasTime, it.Status)
		}
	}
}
