// Package comms provides the in-process bus that fans task lifecycle
// notifications out to interested listeners (SSE clients, loggers).
package comms

import (
	"context"
	"time"
)

// MessageType identifies the kind of notification.
type MessageType string

const (
	TypeTaskUpdate MessageType = "task_update" // a task was created or mutated
)

// AllTasks is the subscription topic that receives every message.
const AllTasks = "*"

// Message is a single lifecycle notification.
type Message struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	TaskID    string            `json:"task_id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`           // created, status_changed, assigned, rated
	Status    string            `json:"status,omitempty"` // task status after the change
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler processes a delivered message.
type Handler func(ctx context.Context, msg *Message) error

// Bus delivers task notifications to subscribers.
type Bus interface {
	// Publish delivers msg to subscribers of msg.TaskID and of AllTasks.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for a task ID, or AllTasks.
	// Returns an unsubscribe function.
	Subscribe(topic string, handler Handler) (unsubscribe func())

	// History returns up to limit recent messages for taskID (all tasks when
	// taskID is empty), oldest first.
	History(taskID string, limit int) ([]*Message, error)
}
