package task

import "time"

// transitions is the fixed status graph. closed and rejected have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusNew:        {StatusAssigned, StatusRejected},
	StatusAssigned:   {StatusInProgress, StatusRejected},
	StatusInProgress: {StatusCompleted, StatusRejected},
	StatusCompleted:  {StatusClosed, StatusRejected},
	StatusClosed:     {},
	StatusRejected:   {},
}

var dueOffsets = map[Priority]time.Duration{
	PriorityLow:      72 * time.Hour,
	PriorityMedium:   24 * time.Hour,
	PriorityHigh:     4 * time.Hour,
	PriorityCritical: time.Hour,
}

// DefaultDueOffset applies to priorities outside the known set.
const DefaultDueOffset = 24 * time.Hour

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusNew, StatusAssigned, StatusInProgress, StatusCompleted, StatusClosed, StatusRejected}
}

// IsValidStatus reports whether s is one of the six lifecycle statuses.
func IsValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no status change may leave s.
func IsTerminal(s Status) bool {
	return s == StatusClosed || s == StatusRejected
}

// CanRate reports whether a task in status s accepts a rating.
func CanRate(s Status) bool {
	return s == StatusCompleted || s == StatusClosed
}

// IsValidPriority reports whether p is a known priority.
func IsValidPriority(p Priority) bool {
	_, ok := dueOffsets[p]
	return ok
}

// DueDateOffset returns how long after creation a task of priority p is due.
// Unknown priorities fall back to DefaultDueOffset.
func DueDateOffset(p Priority) time.Duration {
	if d, ok := dueOffsets[p]; ok {
		return d
	}
	return DefaultDueOffset
}
