package view

import (
	"slices"
	"time"

	"taskboard/domain"
)

// weekStart is the first day of the THIS_WEEK bucket.
const weekStart = time.Sunday

// Columns holds the ordered tasks of each status column. Every status is
// present, possibly with an empty slice.
type Columns map[domain.Status][]domain.Task

// Count returns the number of tasks across all columns.
func (c Columns) Count() int {
	n := 0
	for _, tasks := range c {
		n += len(tasks)
	}
	return n
}

// Derive filters, sorts and groups tasks for rendering. tasks must be in
// board order, which the CREATED sort and every tie preserve. Due date
// buckets are evaluated against the calendar of now.
func Derive(tasks []domain.Task, c Criteria, now time.Time) Columns {
	c = c.normalized()
	today := domain.DateOf(now)

	kept := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, c, today) {
			kept = append(kept, t)
		}
	}

	switch c.SortBy {
	case SortDueDate:
		slices.SortStableFunc(kept, compareDueDate)
	case SortPriority:
		slices.SortStableFunc(kept, comparePriority)
	}

	cols := make(Columns, 3)
	for _, s := range domain.Statuses() {
		cols[s] = []domain.Task{}
	}
	for _, t := range kept {
		cols[t.Status] = append(cols[t.Status], t)
	}
	return cols
}

func matches(t domain.Task, c Criteria, today domain.Date) bool {
	if c.Status != All && string(t.Status) != c.Status {
		return false
	}
	if c.Priority != All && string(t.Priority) != c.Priority {
		return false
	}
	return MatchesDue(t.DueDate, c.Due, today)
}

// MatchesDue reports whether due falls into the bucket relative to today.
func MatchesDue(due *domain.Date, f DueFilter, today domain.Date) bool {
	if f == DueAll || f == "" {
		return true
	}
	if due == nil {
		return false
	}
	switch f {
	case DueToday:
		return *due == today
	case DueThisWeek:
		offset := (int(today.Weekday()) - int(weekStart) + 7) % 7
		first := today.AddDays(-offset)
		last := first.AddDays(6)
		return !due.Before(first) && !due.After(last)
	case DueThisMonth:
		return due.Year == today.Year && due.Month == today.Month
	}
	return false
}

func compareDueDate(a, b domain.Task) int {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	case a.DueDate.Before(*b.DueDate):
		return -1
	case b.DueDate.Before(*a.DueDate):
		return 1
	}
	return 0
}

func comparePriority(a, b domain.Task) int {
	return b.Priority.Rank() - a.Priority.Rank()
}
