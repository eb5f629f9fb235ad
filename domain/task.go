package domain

import (
	"strings"
	"time"
)

// Status is the board column a task belongs to.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Statuses returns the board columns in display order.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusCompleted}
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts the wire value case-insensitively.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Message: "unknown status " + v}
	}
	return s, nil
}

// Priority orders tasks within a column.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank gives LOW < MEDIUM < HIGH. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

func ParsePriority(v string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Message: "unknown priority " + v}
	}
	return p, nil
}

// IsValidTransition reports whether a task may move from one column to
// another. Every column is reachable from every other one; moving a task
// onto its own column is a no-op and therefore not a transition.
func IsValidTransition(from, to Status) bool {
	return from.Valid() && to.Valid() && from != to
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	DueDate     *Date     `json:"dueDate,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks the invariants every stored task holds.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if !t.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(t.Status)}
	}
	if !t.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "unknown priority " + string(t.Priority)}
	}
	return nil
}

// Equal compares tasks field by field. CreatedAt is compared as an instant.
func (t Task) Equal(o Task) bool {
	if t.ID != o.ID || t.Title != o.Title || t.Description != o.Description ||
		t.Status != o.Status || t.Priority != o.Priority || !t.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	switch {
	case t.DueDate == nil && o.DueDate == nil:
		return true
	case t.DueDate == nil || o.DueDate == nil:
		return false
	}
	return *t.DueDate == *o.DueDate
}

// TaskDraft carries the fields of a task that has not been created yet.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	DueDate     *Date    `json:"dueDate,omitempty"`
}

// Normalize fills the defaults the server applies on create.
func (d TaskDraft) Normalize() TaskDraft {
	d.Title = strings.TrimSpace(d.Title)
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return d
}

func (d TaskDraft) Validate() error {
	n := d.Normalize()
	return Task{Title: n.Title, Status: n.Status, Priority: n.Priority}.Validate()
}

// Task builds the stored task for an id assigned by the server.
func (d TaskDraft) Task(id string, createdAt time.Time) Task {
	n := d.Normalize()
	return Task{
		ID:          id,
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		DueDate:     n.DueDate,
		CreatedAt:   createdAt,
	}
}
