package domain

import "github.com/bytedance/sonic"

const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
	UserCreated = "user-created"
)

// Event records a change made through the API for downstream consumers.
type Event struct {
	ID         string                 `json:"id"`
	EntityID   string                 `json:"entityId"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the user that caused it.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}
