package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskboard/domain"
	"taskboard/view"
)

type recordingTransitioner struct {
	begins []DropEvent
}

func (r *recordingTransitioner) Begin(id string, target domain.Status) (Transition, bool, error) {
	r.begins = append(r.begins, DropEvent{TaskID: id, Target: target})
	return Transition{TaskID: id, Target: target}, true, nil
}

func (r *recordingTransitioner) Dispatch(ctx context.Context, tr Transition) <-chan Outcome {
	ch := make(chan Outcome)
	close(ch)
	return ch
}

func TestDropIgnoresNoopGestures(t *testing.T) {
	store := NewStore()
	store.Load([]domain.Task{task("a", domain.StatusTodo, domain.PriorityLow)})
	rec := &recordingTransitioner{}
	c := NewController(store, rec)

	cases := map[string]DropEvent{
		"cancelled":      {TaskID: "a", Source: domain.StatusTodo, Target: domain.StatusCompleted, Cancelled: true},
		"outside column": {TaskID: "a", Source: domain.StatusTodo},
		"same column":    {TaskID: "a", Source: domain.StatusTodo, Target: domain.StatusTodo},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := c.Drop(ev); ok || err != nil {
				t.Fatalf("expected no-op, got ok=%v err=%v", ok, err)
			}
		})
	}
	if len(rec.begins) != 0 {
		t.Fatalf("expected no transitions, got %v", rec.begins)
	}
}

func TestDropUsesCurrentStatusNotSource(t *testing.T) {
	store := NewStore()
	store.Load([]domain.Task{task("a", domain.StatusInProgress, domain.PriorityLow)})
	rec := &recordingTransitioner{}
	c := NewController(store, rec)

	// The gesture started before the task moved.
	ev := DropEvent{TaskID: "a", Source: domain.StatusTodo, Target: domain.StatusInProgress}
	if _, ok, _ := c.Drop(ev); ok {
		t.Fatalf("drop onto current column must be a no-op")
	}

	ev.Target = domain.StatusCompleted
	if _, ok, err := c.Drop(ev); !ok || err != nil {
		t.Fatalf("expected transition, got ok=%v err=%v", ok, err)
	}
	if len(rec.begins) != 1 || rec.begins[0].Target != domain.StatusCompleted {
		t.Fatalf("unexpected begins %v", rec.begins)
	}
}

func TestDropUnknownTask(t *testing.T) {
	c := NewController(NewStore(), &recordingTransitioner{})
	_, _, err := c.Drop(DropEvent{TaskID: "ghost", Target: domain.StatusCompleted})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLayoutColumnAt(t *testing.T) {
	layout := EvenLayout(32, 1, domain.Statuses())
	if len(layout) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(layout))
	}

	cases := []struct {
		x    int
		want domain.Status
		ok   bool
	}{
		{0, domain.StatusTodo, true},
		{9, domain.StatusTodo, true},
		{10, "", false},
		{11, domain.StatusInProgress, true},
		{21, "", false},
		{22, domain.StatusCompleted, true},
		{40, "", false},
		{-1, "", false},
	}
	for _, tc := range cases {
		got, ok := layout.ColumnAt(tc.x)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("x=%d: expected %q/%v, got %q/%v", tc.x, tc.want, tc.ok, got, ok)
		}
	}
}

func TestGestureRelease(t *testing.T) {
	store := NewStore()
	store.Load([]domain.Task{task("a", domain.StatusTodo, domain.PriorityLow)})
	c := NewController(store, &recordingTransitioner{})

	g, err := c.Pick("a")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	layout := EvenLayout(30, 0, domain.Statuses())

	if ev := g.Release(layout, 25); ev.Cancelled || ev.Target != domain.StatusCompleted || ev.Source != domain.StatusTodo {
		t.Fatalf("unexpected drop %+v", ev)
	}
	if ev := g.Release(layout, 99); !ev.Cancelled {
		t.Fatalf("release outside the board must cancel, got %+v", ev)
	}
	if ev := g.Cancel(); !ev.Cancelled {
		t.Fatalf("expected cancelled drop")
	}
}

func TestFilteredBoardMoveAndRollback(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	e, api := newTestEngine(
		task("t1", domain.StatusTodo, domain.PriorityHigh),
		task("t2", domain.StatusTodo, domain.PriorityLow),
		task("t3", domain.StatusInProgress, domain.PriorityHigh),
	)
	release := make(chan struct{})
	api.updateFn = func(id string, p domain.Patch) (domain.Task, error) {
		<-release
		return domain.Task{}, domain.ErrTransitionConflict
	}
	c := NewController(e.Store(), e)
	criteria := view.Criteria{SortBy: view.SortCreated, Status: view.All, Priority: string(domain.PriorityHigh), Due: view.DueAll}

	cols := view.Derive(e.Store().All(), criteria, now)
	if got := len(cols[domain.StatusTodo]); got != 1 {
		t.Fatalf("expected only the HIGH task in TODO, got %d", got)
	}

	done, ok, err := c.Move(context.Background(), DropEvent{TaskID: "t1", Source: domain.StatusTodo, Target: domain.StatusCompleted})
	if err != nil || !ok {
		t.Fatalf("move: ok=%v err=%v", ok, err)
	}

	cols = view.Derive(e.Store().All(), criteria, now)
	if len(cols[domain.StatusTodo]) != 0 || len(cols[domain.StatusCompleted]) != 1 || cols[domain.StatusCompleted][0].ID != "t1" {
		t.Fatalf("expected t1 in COMPLETED while pending, got %v", cols)
	}
	if len(cols[domain.StatusInProgress]) != 1 {
		t.Fatalf("unrelated column changed: %v", cols[domain.StatusInProgress])
	}

	close(release)
	out := <-done
	if out.OK || out.Kind != FailureConflict {
		t.Fatalf("expected conflict outcome, got %+v", out)
	}

	cols = view.Derive(e.Store().All(), criteria, now)
	if len(cols[domain.StatusTodo]) != 1 || cols[domain.StatusTodo][0].ID != "t1" || len(cols[domain.StatusCompleted]) != 0 {
		t.Fatalf("expected t1 back in TODO, got %v", cols)
	}
}
