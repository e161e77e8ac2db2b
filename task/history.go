package task

import "time"

// Action identifies the kind of mutation a history record describes.
type Action string

const (
	ActionCreated       Action = "created"
	ActionStatusChanged Action = "status_changed"
	ActionAssigned      Action = "assigned"
	ActionRated         Action = "rated"
)

// Record is an immutable audit entry for one task mutation. Only the fields
// belonging to Action are populated.
type Record struct {
	ID        int64     `json:"-"`
	TaskID    string    `json:"task_id"`
	Action    Action    `json:"action"`
	Actor     string    `json:"performed_by"`
	Timestamp time.Time `json:"timestamp"`

	// created
	Details map[string]string `json:"details,omitempty"`
	// status_changed
	FromStatus Status `json:"from_status,omitempty"`
	ToStatus   Status `json:"to_status,omitempty"`
	// assigned
	PreviousAssignee string `json:"previous_assignee,omitempty"`
	NewAssignee      string `json:"new_assignee,omitempty"`
	// rated
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

func (r *Record) clone() *Record {
	c := *r
	if r.Details != nil {
		c.Details = make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			c.Details[k] = v
		}
	}
	return &c
}
