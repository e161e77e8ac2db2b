// Package task defines the service ticket model, its lifecycle policy, and
// the stores and service that move tickets through that lifecycle.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusNew        Status = "new"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
	StatusRejected   Status = "rejected"
)

// Priority determines how quickly a task is due.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Task is a tracked maintenance or service ticket.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"` // electrical, plumbing, repair, ...
	LocationID    string     `json:"location_id"`
	Priority      Priority   `json:"priority"`
	Status        Status     `json:"status"`
	CreatedBy     string     `json:"created_by"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Attachments   []string   `json:"attachments"`
	Rating        *int       `json:"rating,omitempty"`
	RatingComment string     `json:"rating_comment,omitempty"`
}

// CreateInput carries the caller-supplied fields of a new task.
type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	LocationID  string   `json:"location_id"`
	Priority    Priority `json:"priority"`
	Attachments []string `json:"attachments,omitempty"`
}

// Rating is the result of rating a task.
type Rating struct {
	TaskID  string `json:"task_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status *Status `json:"status,omitempty"`
	// Query is an AIP-160 filter expression, e.g. `priority = "high"`.
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// MaxListLimit bounds every List result.
const MaxListLimit = 100

// clone returns a deep copy so stores never hand out shared slices.
func (t *Task) clone() *Task {
	c := *t
	if t.Attachments != nil {
		c.Attachments = append([]string(nil), t.Attachments...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.Rating != nil {
		r := *t.Rating
		c.Rating = &r
	}
	return &c
}

// filterFields exposes the fields addressable from a filter expression.
// Timestamps are unix nanoseconds, matching the SQLite columns.
func (t *Task) filterFields() map[string]any {
	f := map[string]any{
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"category":    t.Category,
		"location_id": t.LocationID,
		"created_by":  t.CreatedBy,
		"assigned_to": t.AssignedTo,
		"created_at":  t.CreatedAt.UnixNano(),
	}
	if t.DueDate != nil {
		f["due_date"] = t.DueDate.UnixNano()
	}
	return f
}

func clampLimit(n int) int {
	if n <= 0 || n > MaxListLimit {
		return MaxListLimit
	}
	return n
}
