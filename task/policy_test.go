package task

import (
	"testing"
	"time"
)

func TestIsValidStatus(t *testing.T) {
	for _, s := range Statuses() {
		if !IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{"", "pending", "NEW", "done", "in-progress"} {
		if IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = true, want false", s)
		}
	}
}

func TestCanTransition_Graph(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusNew, StatusAssigned}:         true,
		{StatusNew, StatusRejected}:         true,
		{StatusAssigned, StatusInProgress}:  true,
		{StatusAssigned, StatusRejected}:    true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusRejected}:  true,
		{StatusCompleted, StatusClosed}:     true,
		{StatusCompleted, StatusRejected}:   true,
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := legal[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_TerminalHasNoEdges(t *testing.T) {
	for _, from := range []Status{StatusClosed, StatusRejected} {
		if !IsTerminal(from) {
			t.Errorf("IsTerminal(%s) = false", from)
		}
		for _, to := range Statuses() {
			if CanTransition(from, to) {
				t.Errorf("terminal %s -> %s allowed", from, to)
			}
		}
	}
	if CanTransition("bogus", StatusNew) {
		t.Error("unknown source status should have no edges")
	}
}

func TestCanRate(t *testing.T) {
	want := map[Status]bool{StatusCompleted: true, StatusClosed: true}
	for _, s := range Statuses() {
		if got := CanRate(s); got != want[s] {
			t.Errorf("CanRate(%s) = %v, want %v", s, got, want[s])
		}
	}
}

func TestDueDateOffset(t *testing.T) {
	tests := []struct {
		priority Priority
		want     time.Duration
	}{
		{PriorityLow, 72 * time.Hour},
		{PriorityMedium, 24 * time.Hour},
		{PriorityHigh, 4 * time.Hour},
		{PriorityCritical, time.Hour},
		{"urgent", 24 * time.Hour},
		{"", 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := DueDateOffset(tt.priority); got != tt.want {
			t.Errorf("DueDateOffset(%q) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestNewID_Format(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	id := NewID(now)
	if len(id) != len("T-20240309-ABCDEF12") {
		t.Fatalf("id %q has wrong length", id)
	}
	if id[:11] != "T-20240309-" {
		t.Errorf("id %q does not start with date prefix", id)
	}
	for _, c := range id[11:] {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			t.Errorf("id %q suffix has non upper-hex %q", id, c)
		}
	}
	if NewID(now) == id {
		t.Error("two ids generated for the same day are equal")
	}
}
