package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GoCodeAlone/helpdesk/task/filter"
)

// MemoryStore is a thread-safe in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create persists a copy of t.
func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t.clone()
	return nil
}

// Get retrieves a copy of the task with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.clone(), nil
}

// List returns tasks matching the filter ordered by creation time.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Task, error) {
	cond, err := filter.Parse(f.Query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var tasks []*Task
	for _, t := range s.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if !cond.Match(t.filterFields()) {
			continue
		}
		tasks = append(tasks, t.clone())
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	if limit := clampLimit(f.Limit); len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// UpdateStatus compares the stored status with expected and swaps in next.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.Status = next
	return true, nil
}

// SetAssignee records the assignee and moves the status from expected to
// assigned.
func (s *MemoryStore) SetAssignee(_ context.Context, id, assignee string, expected Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.AssignedTo = assignee
	t.Status = StatusAssigned
	return true, nil
}

// SetRating stores the rating and comment.
func (s *MemoryStore) SetRating(_ context.Context, id string, rating int, comment string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	t.Rating = &rating
	t.RatingComment = comment
	return true, nil
}

// MemoryHistory is a thread-safe in-process HistoryStore.
type MemoryHistory struct {
	mu      sync.RWMutex
	seq     int64
	records map[string][]*Record // taskID -> records in append order
}

// NewMemoryHistory returns an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string][]*Record)}
}

// Append stores a copy of r and assigns its sequence ID.
func (h *MemoryHistory) Append(_ context.Context, r *Record) error {
	if r.TaskID == "" {
		return fmt.Errorf("history record has no task id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	r.ID = h.seq
	h.records[r.TaskID] = append(h.records[r.TaskID], r.clone())
	return nil
}

// ListByTask returns the task's records newest first. Records with equal
// timestamps are returned in reverse append order.
func (h *MemoryHistory) ListByTask(_ context.Context, taskID string) ([]*Record, error) {
	h.mu.RLock()
	stored := h.records[taskID]
	out := make([]*Record, 0, len(stored))
	for _, r := range stored {
		out = append(out, r.clone())
	}
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > MaxListLimit {
		out = out[:MaxListLimit]
	}
	return out, nil
}
