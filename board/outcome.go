package board

import (
	"context"
	"errors"

	"taskboard/domain"
)

// API is the remote collaborator the engine confirms changes against.
type API interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// FailureKind tells failures apart for logs and telemetry. Recovery is the
// same for every kind.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureConflict    FailureKind = "transition_conflict"
	FailureNetwork     FailureKind = "network_failure"
	FailureAuthExpired FailureKind = "auth_expired"
)

// Classify maps an API error onto a failure kind. Anything that is not a
// server rejection or an expired session counts as a network failure.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, domain.ErrAuthExpired):
		return FailureAuthExpired
	case errors.Is(err, domain.ErrTransitionConflict), errors.Is(err, domain.ErrNotFound):
		return FailureConflict
	}
	return FailureNetwork
}

// Outcome is the reported result of a status transition. Superseded
// requests never produce one.
type Outcome struct {
	TaskID string
	Target domain.Status
	OK     bool
	Kind   FailureKind
	Reason error
	// Task is the board value after reconciliation or rollback.
	Task domain.Task
}

// Transition is a status change that has been applied locally and still
// has to be confirmed by the server.
type Transition struct {
	TaskID   string
	Target   domain.Status
	Previous domain.Status
	Seq      uint64
}
