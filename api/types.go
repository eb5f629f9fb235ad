package api

import (
	"context"

	"taskboard/domain"
)

// Storage abstracts persistence for handlers. Task lookups are scoped to
// the owning user; missing rows are reported as domain.ErrNotFound.
type Storage interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	PutTask(ctx context.Context, userID string, task domain.Task) error
	DeleteTask(ctx context.Context, userID, id string) error

	// CreateUser fails with domain.ErrEmailTaken when the address exists.
	CreateUser(ctx context.Context, user domain.User) error
	UserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// TokenIssuer signs session tokens for registered users.
type TokenIssuer interface {
	IssueToken(userID string) (string, error)
}

// EventPublisher delivers change events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, env domain.EventEnvelope) error
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the request fails.
	Remove(ctx context.Context, userID, key string) error
}

type errorResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}
