package board

import (
	"testing"
	"time"

	"taskboard/domain"
)

func task(id string, status domain.Status, priority domain.Priority) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		Priority:  priority,
		CreatedAt: time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
}

func storeIDs(s *Store) []string {
	var out []string
	for _, t := range s.All() {
		out = append(out, t.ID)
	}
	return out
}

func TestStoreLoadKeepsFirstPositionOfDuplicates(t *testing.T) {
	s := NewStore()
	dup := task("a", domain.StatusCompleted, domain.PriorityHigh)
	s.Load([]domain.Task{
		task("a", domain.StatusTodo, domain.PriorityLow),
		task("b", domain.StatusTodo, domain.PriorityLow),
		dup,
	})

	if got := storeIDs(s); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order %v", got)
	}
	got, _ := s.Get("a")
	if !got.Equal(dup) {
		t.Fatalf("expected last value to win, got %+v", got)
	}
}

func TestStoreUpsertAndRemove(t *testing.T) {
	s := NewStore()
	s.Upsert(task("a", domain.StatusTodo, domain.PriorityLow))
	s.Upsert(task("b", domain.StatusTodo, domain.PriorityLow))

	edited := task("a", domain.StatusTodo, domain.PriorityLow)
	edited.Title = "renamed"
	s.Upsert(edited)

	if got := storeIDs(s); len(got) != 2 || got[0] != "a" {
		t.Fatalf("expected in-place replace, got %v", got)
	}
	if !s.Remove("a") {
		t.Fatalf("expected a to be removed")
	}
	if s.Remove("a") {
		t.Fatalf("expected second remove to report false")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 task, got %d", s.Len())
	}
}

func TestStoreSetStatusTouchesOnlyStatus(t *testing.T) {
	s := NewStore()
	orig := task("a", domain.StatusTodo, domain.PriorityHigh)
	s.Upsert(orig)
	before := s.Version()

	prev, ok := s.SetStatus("a", domain.StatusCompleted)
	if !ok || prev != domain.StatusTodo {
		t.Fatalf("unexpected result %q %v", prev, ok)
	}
	got, _ := s.Get("a")
	orig.Status = domain.StatusCompleted
	if !got.Equal(orig) {
		t.Fatalf("unexpected task %+v", got)
	}
	if s.Version() <= before {
		t.Fatalf("expected version to advance")
	}
	if _, ok := s.SetStatus("missing", domain.StatusTodo); ok {
		t.Fatalf("expected unknown id to report false")
	}
}
