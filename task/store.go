package task

import "context"

// Store persists and retrieves tasks. Mutations report whether a row was
// affected so callers can tell a lost race from success.
type Store interface {
	// Create persists a new task. The task must already carry its ID.
	Create(ctx context.Context, t *Task) error

	// Get retrieves a task by ID. A missing task yields an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns at most MaxListLimit tasks matching the filter, oldest
	// first.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// UpdateStatus sets the status only if the stored status still equals
	// expected.
	UpdateStatus(ctx context.Context, id string, expected, next Status) (bool, error)

	// SetAssignee records the assignee and sets the status to assigned, only
	// if the stored status still equals expected.
	SetAssignee(ctx context.Context, id, assignee string, expected Status) (bool, error)

	// SetRating stores a rating and its comment.
	SetRating(ctx context.Context, id string, rating int, comment string) (bool, error)
}

// HistoryStore appends and reads task audit records.
type HistoryStore interface {
	// Append writes a record. Write failures are always returned.
	Append(ctx context.Context, r *Record) error

	// ListByTask returns the task's records, newest first.
	ListByTask(ctx context.Context, taskID string) ([]*Record, error)
}
