package board

import (
	"context"
	"fmt"

	"taskboard/domain"
)

// Transitioner is the part of the Engine the controller drives.
type Transitioner interface {
	Begin(id string, target domain.Status) (Transition, bool, error)
	Dispatch(ctx context.Context, tr Transition) <-chan Outcome
}

// DropEvent is what a drag gesture reports when it ends. Cancelled is set
// when the card was released outside every column.
type DropEvent struct {
	TaskID    string
	Source    domain.Status
	Target    domain.Status
	Cancelled bool
}

// Controller turns finished drag gestures into status transitions. It
// reads the current status from the store and holds no task data itself.
type Controller struct {
	store  *Store
	engine Transitioner
}

func NewController(store *Store, engine Transitioner) *Controller {
	return &Controller{store: store, engine: engine}
}

// Drop applies a finished gesture. It returns false without side effects
// for cancelled gestures, drops outside a valid column and drops onto the
// task's current column.
func (c *Controller) Drop(ev DropEvent) (Transition, bool, error) {
	if ev.Cancelled || !ev.Target.Valid() {
		return Transition{}, false, nil
	}
	task, ok := c.store.Get(ev.TaskID)
	if !ok {
		return Transition{}, false, fmt.Errorf("%w: %s", domain.ErrNotFound, ev.TaskID)
	}
	if task.Status == ev.Target {
		return Transition{}, false, nil
	}
	return c.engine.Begin(ev.TaskID, ev.Target)
}

// Move is Drop followed by a background confirmation.
func (c *Controller) Move(ctx context.Context, ev DropEvent) (<-chan Outcome, bool, error) {
	tr, ok, err := c.Drop(ev)
	if err != nil || !ok {
		return nil, false, err
	}
	return c.engine.Dispatch(ctx, tr), true, nil
}

// Pick starts a gesture on a task card.
func (c *Controller) Pick(taskID string) (Gesture, error) {
	task, ok := c.store.Get(taskID)
	if !ok {
		return Gesture{}, fmt.Errorf("%w: %s", domain.ErrNotFound, taskID)
	}
	return Gesture{TaskID: taskID, Source: task.Status}, nil
}

// Gesture is a card being dragged.
type Gesture struct {
	TaskID string
	Source domain.Status
}

// Release ends the gesture at horizontal position x.
func (g Gesture) Release(layout Layout, x int) DropEvent {
	target, ok := layout.ColumnAt(x)
	if !ok {
		return DropEvent{TaskID: g.TaskID, Source: g.Source, Cancelled: true}
	}
	return DropEvent{TaskID: g.TaskID, Source: g.Source, Target: target}
}

// ReleaseOn ends the gesture over a column chosen without coordinates.
func (g Gesture) ReleaseOn(target domain.Status) DropEvent {
	return DropEvent{TaskID: g.TaskID, Source: g.Source, Target: target, Cancelled: !target.Valid()}
}

// Cancel ends the gesture without a drop.
func (g Gesture) Cancel() DropEvent {
	return DropEvent{TaskID: g.TaskID, Source: g.Source, Cancelled: true}
}

// ColumnBounds is the horizontal extent [Left, Right) of a column.
type ColumnBounds struct {
	Status domain.Status
	Left   int
	Right  int
}

// Layout maps pointer positions to drop targets.
type Layout []ColumnBounds

// EvenLayout splits width into equal columns separated by gap cells, which
// are not drop targets.
func EvenLayout(width, gap int, statuses []domain.Status) Layout {
	n := len(statuses)
	if n == 0 || width <= 0 {
		return nil
	}
	colWidth := (width - gap*(n-1)) / n
	if colWidth <= 0 {
		return nil
	}
	layout := make(Layout, 0, n)
	left := 0
	for _, s := range statuses {
		layout = append(layout, ColumnBounds{Status: s, Left: left, Right: left + colWidth})
		left += colWidth + gap
	}
	return layout
}

func (l Layout) ColumnAt(x int) (domain.Status, bool) {
	for _, b := range l {
		if x >= b.Left && x < b.Right {
			return b.Status, true
		}
	}
	return "", false
}
