package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/helpdesk/comms"
)

// stepClock returns a time that advances by one second on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

type fixture struct {
	svc     *Service
	tasks   *MemoryStore
	history *MemoryHistory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &stepClock{t: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
	f := &fixture{tasks: NewMemoryStore(), history: NewMemoryHistory()}
	opts = append([]Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	f.svc = NewService(f.tasks, f.history, opts...)
	return f
}

func (f *fixture) create(t *testing.T, priority Priority) *Task {
	t.Helper()
	tk, err := f.svc.CreateTask(context.Background(), CreateInput{
		Title:      "Leaking pipe",
		Category:   "plumbing",
		LocationID: "room_101",
		Priority:   priority,
	}, "u1")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

// force moves a stored task to status s without going through the service.
func (f *fixture) force(t *testing.T, id string, s Status) {
	t.Helper()
	cur, err := f.tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok, _ := f.tasks.UpdateStatus(context.Background(), id, cur.Status, s); !ok {
		t.Fatalf("force %s -> %s failed", cur.Status, s)
	}
}

func (f *fixture) historyOf(t *testing.T, id string) []*Record {
	t.Helper()
	recs, err := f.svc.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return recs
}

func TestService_CreateTask(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityHigh)

	if tk.Status != StatusNew {
		t.Errorf("Status = %q, want new", tk.Status)
	}
	if tk.CreatedBy != "u1" {
		t.Errorf("CreatedBy = %q, want u1", tk.CreatedBy)
	}
	if tk.DueDate == nil || tk.DueDate.Sub(tk.CreatedAt) != 4*time.Hour {
		t.Errorf("DueDate = %v, want CreatedAt+4h (%v)", tk.DueDate, tk.CreatedAt)
	}
	if tk.Attachments == nil {
		t.Error("Attachments is nil, want empty slice")
	}

	stored, err := f.svc.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.Title != "Leaking pipe" || stored.Category != "plumbing" {
		t.Errorf("stored task = %+v", stored)
	}

	recs := f.historyOf(t, tk.ID)
	if len(recs) != 1 {
		t.Fatalf("history len = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Action != ActionCreated || r.Actor != "u1" || r.TaskID != tk.ID {
		t.Errorf("record = %+v", r)
	}
	want := map[string]string{"title": "Leaking pipe", "category": "plumbing", "priority": "high"}
	for k, v := range want {
		if r.Details[k] != v {
			t.Errorf("Details[%s] = %q, want %q", k, r.Details[k], v)
		}
	}
}

func TestService_CreateTask_CriticalDueInOneHour(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityCritical)
	if got := tk.DueDate.Sub(tk.CreatedAt); got != time.Hour {
		t.Errorf("due offset = %v, want 1h", got)
	}
}

func TestService_CreateTask_UnknownPriority(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTask(context.Background(), CreateInput{Title: "x", Priority: "urgent"}, "u1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if recs := f.historyOf(t, "any"); len(recs) != 0 {
		t.Errorf("unexpected history %v", recs)
	}

	permissive := newFixture(t, WithUnknownPriority(true))
	tk, err := permissive.svc.CreateTask(context.Background(), CreateInput{Title: "x", Priority: "urgent"}, "u1")
	if err != nil {
		t.Fatalf("CreateTask permissive: %v", err)
	}
	if got := tk.DueDate.Sub(tk.CreatedAt); got != 24*time.Hour {
		t.Errorf("due offset = %v, want 24h", got)
	}
}

func TestService_CreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		in    CreateInput
		actor string
	}{
		{"no actor", CreateInput{Title: "t", Priority: PriorityLow}, ""},
		{"blank title", CreateInput{Title: "   ", Priority: PriorityLow}, "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateTask(context.Background(), tt.in, tt.actor); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestService_CreateTask_DueOffsetOverride(t *testing.T) {
	f := newFixture(t, WithDueOffsets(map[Priority]time.Duration{PriorityLow: 48 * time.Hour}))
	tk := f.create(t, PriorityLow)
	if got := tk.DueDate.Sub(tk.CreatedAt); got != 48*time.Hour {
		t.Errorf("due offset = %v, want 48h", got)
	}
}

func TestService_GetTask_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetTask(context.Background(), "T-00000000-DEADBEEF")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_UpdateStatus_AllPairs(t *testing.T) {
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
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				f := newFixture(t)
				tk := f.create(t, PriorityMedium)
				if from != StatusNew {
					f.force(t, tk.ID, from)
				}

				got, err := f.svc.UpdateStatus(context.Background(), tk.ID, to, "u2")
				if legal[[2]Status{from, to}] {
					if err != nil {
						t.Fatalf("UpdateStatus: %v", err)
					}
					if got.Status != to {
						t.Errorf("Status = %q, want %q", got.Status, to)
					}
					recs := f.historyOf(t, tk.ID)
					if len(recs) != 2 {
						t.Fatalf("history len = %d, want 2", len(recs))
					}
					r := recs[0]
					if r.Action != ActionStatusChanged || r.FromStatus != from || r.ToStatus != to || r.Actor != "u2" {
						t.Errorf("record = %+v, want status_changed %s -> %s by u2", r, from, to)
					}
					return
				}
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("err = %v, want ErrIllegalTransition", err)
				}
				stored, _ := f.tasks.Get(context.Background(), tk.ID)
				if stored.Status != from {
					t.Errorf("stored status = %q, want unchanged %q", stored.Status, from)
				}
				if n := len(f.historyOf(t, tk.ID)); n != 1 {
					t.Errorf("history len = %d, want 1", n)
				}
			})
		}
	}
}

func TestService_UpdateStatus_ErrorNamesBothStatuses(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityLow)
	_, err := f.svc.UpdateStatus(context.Background(), tk.ID, StatusCompleted, "u2")
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, s := range []string{`"new"`, `"completed"`} {
		if !contains(msg, s) {
			t.Errorf("error %q does not mention %s", msg, s)
		}
	}
}

func TestService_UpdateStatus_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityLow)
	_, err := f.svc.UpdateStatus(context.Background(), tk.ID, "done", "u2")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	// An invalid status is rejected before the task is looked up.
	_, err = f.svc.UpdateStatus(context.Background(), "missing", "done", "u2")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateStatus(context.Background(), "missing", StatusAssigned, "u2")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// staleStore serves a snapshot taken before another writer moved the task.
type staleStore struct {
	*MemoryStore
	stale *Task
}

func (s *staleStore) Get(ctx context.Context, id string) (*Task, error) {
	if s.stale != nil && s.stale.ID == id {
		return s.stale.clone(), nil
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestService_UpdateStatus_LostRaceIsConflict(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityLow)
	snapshot, _ := f.tasks.Get(context.Background(), tk.ID)
	f.force(t, tk.ID, StatusRejected)

	svc := NewService(&staleStore{MemoryStore: f.tasks, stale: snapshot}, f.history,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := svc.UpdateStatus(context.Background(), tk.ID, StatusAssigned, "u2")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if n := len(f.historyOf(t, tk.ID)); n != 1 {
		t.Errorf("history len = %d, want 1", n)
	}
}

func TestService_UpdateStatus_ConcurrentRace(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityLow)

	targets := []Status{StatusAssigned, StatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to Status) {
			defer wg.Done()
			_, errs[i] = f.svc.UpdateStatus(context.Background(), tk.ID, to, "u2")
		}(i, to)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrIllegalTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want exactly 1 (errs %v)", succeeded, errs)
	}
	if n := len(f.historyOf(t, tk.ID)); n != 2 {
		t.Errorf("history len = %d, want 2", n)
	}
}

func TestService_AssignTask(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityMedium)

	got, err := f.svc.AssignTask(context.Background(), tk.ID, "tech-1", "dispatcher")
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if got.Status != StatusAssigned || got.AssignedTo != "tech-1" {
		t.Errorf("task = %+v", got)
	}

	got, err = f.svc.AssignTask(context.Background(), tk.ID, "tech-2", "dispatcher")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedTo != "tech-2" {
		t.Errorf("AssignedTo = %q, want tech-2", got.AssignedTo)
	}

	recs := f.historyOf(t, tk.ID)
	if len(recs) != 3 {
		t.Fatalf("history len = %d, want 3", len(recs))
	}
	latest := recs[0]
	if latest.Action != ActionAssigned || latest.PreviousAssignee != "tech-1" || latest.NewAssignee != "tech-2" || latest.Actor != "dispatcher" {
		t.Errorf("latest record = %+v", latest)
	}
	if recs[1].PreviousAssignee != "" || recs[1].NewAssignee != "tech-1" {
		t.Errorf("first assignment record = %+v", recs[1])
	}
}

func TestService_AssignTask_BypassesGraph(t *testing.T) {
	for _, from := range []Status{StatusInProgress, StatusCompleted, StatusClosed, StatusRejected} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			tk := f.create(t, PriorityMedium)
			f.force(t, tk.ID, from)

			got, err := f.svc.AssignTask(context.Background(), tk.ID, "tech-1", "dispatcher")
			if err != nil {
				t.Fatalf("AssignTask: %v", err)
			}
			if got.Status != StatusAssigned {
				t.Errorf("Status = %q, want assigned", got.Status)
			}
		})
	}
}

func TestService_AssignTask_TerminalDisallowed(t *testing.T) {
	f := newFixture(t, WithTerminalAssign(false))
	tk := f.create(t, PriorityMedium)
	f.force(t, tk.ID, StatusRejected)

	_, err := f.svc.AssignTask(context.Background(), tk.ID, "tech-1", "dispatcher")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if n := len(f.historyOf(t, tk.ID)); n != 1 {
		t.Errorf("history len = %d, want 1", n)
	}
}

// closingStore closes the task between the service's read and its
// assignment write.
type closingStore struct {
	*MemoryStore
}

func (s *closingStore) SetAssignee(ctx context.Context, id, assignee string, expected Status) (bool, error) {
	if _, err := s.MemoryStore.UpdateStatus(ctx, id, StatusCompleted, StatusClosed); err != nil {
		return false, err
	}
	return s.MemoryStore.SetAssignee(ctx, id, assignee, expected)
}

func TestService_AssignTask_ClosedConcurrently(t *testing.T) {
	for _, allow := range []bool{false, true} {
		t.Run(fmt.Sprintf("terminal_assign_%v", allow), func(t *testing.T) {
			f := newFixture(t)
			tk := f.create(t, PriorityMedium)
			f.force(t, tk.ID, StatusCompleted)

			svc := NewService(&closingStore{f.tasks}, f.history,
				WithTerminalAssign(allow),
				WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			_, err := svc.AssignTask(context.Background(), tk.ID, "tech-1", "dispatcher")
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("err = %v, want ErrConflict", err)
			}

			stored, _ := f.tasks.Get(context.Background(), tk.ID)
			if stored.Status != StatusClosed || stored.AssignedTo != "" {
				t.Errorf("stored = %q assigned to %q, want closed and unassigned", stored.Status, stored.AssignedTo)
			}
			if n := len(f.historyOf(t, tk.ID)); n != 1 {
				t.Errorf("history len = %d, want 1", n)
			}
		})
	}
}

func TestService_AssignTask_Errors(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.AssignTask(context.Background(), "missing", "tech-1", "d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task: err = %v, want ErrNotFound", err)
	}
	tk := f.create(t, PriorityMedium)
	if _, err := f.svc.AssignTask(context.Background(), tk.ID, " ", "d"); !errors.Is(err, ErrValidation) {
		t.Errorf("blank assignee: err = %v, want ErrValidation", err)
	}
}

func TestService_RateTask_ByStatus(t *testing.T) {
	for _, s := range Statuses() {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t)
			tk := f.create(t, PriorityMedium)
			if s != StatusNew {
				f.force(t, tk.ID, s)
			}
			r, err := f.svc.RateTask(context.Background(), tk.ID, 4, "ok", "u1")
			if CanRate(s) {
				if err != nil {
					t.Fatalf("RateTask: %v", err)
				}
				if r.Rating != 4 || r.Comment != "ok" || r.TaskID != tk.ID {
					t.Errorf("rating = %+v", r)
				}
				stored, _ := f.tasks.Get(context.Background(), tk.ID)
				if stored.Rating == nil || *stored.Rating != 4 || stored.RatingComment != "ok" {
					t.Errorf("stored rating = %v %q", stored.Rating, stored.RatingComment)
				}
				return
			}
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestService_RateTask_OutOfRange(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityMedium)
	f.force(t, tk.ID, StatusCompleted)
	for _, rating := range []int{0, 6, -1} {
		if _, err := f.svc.RateTask(context.Background(), tk.ID, rating, "", "u1"); !errors.Is(err, ErrValidation) {
			t.Errorf("rating %d: err = %v, want ErrValidation", rating, err)
		}
	}
	// Range is checked before the task is looked up.
	if _, err := f.svc.RateTask(context.Background(), "missing", 6, "", "u1"); !errors.Is(err, ErrValidation) {
		t.Errorf("missing task rating 6: err = %v, want ErrValidation", err)
	}
}

// noEffectStore reports that rating writes touched nothing.
type noEffectStore struct{ *MemoryStore }

func (s *noEffectStore) SetRating(context.Context, string, int, string) (bool, error) {
	return false, nil
}

func TestService_RateTask_NoEffectIsStoreError(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityMedium)
	f.force(t, tk.ID, StatusClosed)

	svc := NewService(&noEffectStore{f.tasks}, f.history)
	_, err := svc.RateTask(context.Background(), tk.ID, 5, "", "u1")
	if !errors.Is(err, ErrStore) {
		t.Fatalf("err = %v, want ErrStore", err)
	}
	if errors.Is(err, ErrAuditIncomplete) {
		t.Error("no-effect rating must not be reported as an audit gap")
	}
}

// brokenHistory fails every append.
type brokenHistory struct{ *MemoryHistory }

func (h *brokenHistory) Append(context.Context, *Record) error {
	return errors.New("disk full")
}

func TestService_HistoryFailureKeepsMutation(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityMedium)

	svc := NewService(f.tasks, &brokenHistory{f.history},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	got, err := svc.UpdateStatus(context.Background(), tk.ID, StatusAssigned, "u2")
	if !errors.Is(err, ErrStore) || !errors.Is(err, ErrAuditIncomplete) {
		t.Fatalf("err = %v, want ErrStore and ErrAuditIncomplete", err)
	}
	if got == nil || got.Status != StatusAssigned {
		t.Fatalf("returned task = %+v, want status assigned", got)
	}
	stored, _ := f.tasks.Get(context.Background(), tk.ID)
	if stored.Status != StatusAssigned {
		t.Errorf("stored status = %q, want assigned (no rollback)", stored.Status)
	}
	if KindOf(err) != ErrStore {
		t.Errorf("KindOf = %v, want ErrStore", KindOf(err))
	}
}

func TestService_ListTasks(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, PriorityLow)
	b := f.create(t, PriorityHigh)
	f.create(t, PriorityHigh)
	if _, err := f.svc.UpdateStatus(context.Background(), a.ID, StatusRejected, "u2"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	all, err := f.svc.ListTasks(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != a.ID || all[1].ID != b.ID {
		t.Errorf("order = %s, %s; want creation order", all[0].ID, all[1].ID)
	}

	newStatus := StatusNew
	fresh, err := f.svc.ListTasks(context.Background(), Filter{Status: &newStatus})
	if err != nil {
		t.Fatalf("ListTasks(new): %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("new tasks = %d, want 2", len(fresh))
	}

	high, err := f.svc.ListTasks(context.Background(), Filter{Query: `priority = "high"`, Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks(query): %v", err)
	}
	if len(high) != 1 || high[0].ID != b.ID {
		t.Errorf("high = %v, want [%s]", high, b.ID)
	}

	bogus := Status("done")
	if _, err := f.svc.ListTasks(context.Background(), Filter{Status: &bogus}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status: err = %v, want ErrInvalidStatus", err)
	}
	if _, err := f.svc.ListTasks(context.Background(), Filter{Query: "priority ="}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad query: err = %v, want ErrValidation", err)
	}
}

func TestService_ListTasks_Empty(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.ListTasks(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestService_History_NewestFirst(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, PriorityLow)
	if _, err := f.svc.UpdateStatus(context.Background(), tk.ID, StatusAssigned, "u2"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), tk.ID, StatusInProgress, "u2"); err != nil {
		t.Fatal(err)
	}

	recs := f.historyOf(t, tk.ID)
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if !recs[i-1].Timestamp.After(recs[i].Timestamp) {
			t.Errorf("record %d (%v) not newer than record %d (%v)", i-1, recs[i-1].Timestamp, i, recs[i].Timestamp)
		}
	}
	if recs[0].ToStatus != StatusInProgress || recs[2].Action != ActionCreated {
		t.Errorf("unexpected order: %s, %s", recs[0].Action, recs[2].Action)
	}
}

func TestService_History_UnknownTask(t *testing.T) {
	f := newFixture(t)
	recs := f.historyOf(t, "T-19700101-00000000")
	if recs == nil || len(recs) != 0 {
		t.Errorf("recs = %v, want empty", recs)
	}
}

func TestService_PublishesUpdates(t *testing.T) {
	bus := comms.NewInMemoryBus()
	f := newFixture(t, WithBus(bus))

	var mu sync.Mutex
	var got []*comms.Message
	bus.Subscribe(comms.AllTasks, func(_ context.Context, m *comms.Message) error {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		return nil
	})

	tk := f.create(t, PriorityLow)
	if _, err := f.svc.UpdateStatus(context.Background(), tk.ID, StatusAssigned, "u2"); err != nil {
		t.Fatal(err)
	}
	// A failed transition publishes nothing.
	_, _ = f.svc.UpdateStatus(context.Background(), tk.ID, StatusClosed, "u2")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	m := got[1]
	if m.Type != comms.TypeTaskUpdate || m.TaskID != tk.ID || m.Action != "status_changed" || m.Status != "assigned" {
		t.Errorf("message = %+v", m)
	}
	if m.Metadata["from"] != "new" || m.Metadata["to"] != "assigned" {
		t.Errorf("metadata = %v", m.Metadata)
	}
}

// The end-to-end walk through the lifecycle.
func TestService_LifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.svc.CreateTask(ctx, CreateInput{
		Title:    "Broken tap",
		Category: "plumbing",
		Priority: PriorityHigh,
	}, "u1")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.Status != StatusNew || tk.DueDate.Sub(tk.CreatedAt) != 4*time.Hour {
		t.Fatalf("created task = %+v", tk)
	}

	if _, err := f.svc.UpdateStatus(ctx, tk.ID, StatusAssigned, "u2"); err != nil {
		t.Fatalf("new -> assigned: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, StatusCompleted, "u2"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("assigned -> completed: err = %v, want ErrIllegalTransition", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, StatusInProgress, "u2"); err != nil {
		t.Fatalf("assigned -> in_progress: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, StatusCompleted, "u2"); err != nil {
		t.Fatalf("in_progress -> completed: %v", err)
	}
	if _, err := f.svc.RateTask(ctx, tk.ID, 5, "great", "u1"); err != nil {
		t.Fatalf("RateTask: %v", err)
	}

	recs := f.historyOf(t, tk.ID)
	wantActions := []Action{ActionRated, ActionStatusChanged, ActionStatusChanged, ActionStatusChanged, ActionCreated}
	if len(recs) != len(wantActions) {
		t.Fatalf("history len = %d, want %d", len(recs), len(wantActions))
	}
	for i, a := range wantActions {
		if recs[i].Action != a {
			t.Errorf("recs[%d].Action = %q, want %q", i, recs[i].Action, a)
		}
	}
	if recs[0].Rating != 5 || recs[0].Comment != "great" || recs[0].Actor != "u1" {
		t.Errorf("rated record = %+v", recs[0])
	}
	if recs[3].FromStatus != StatusNew || recs[3].ToStatus != StatusAssigned || recs[3].Actor != "u2" {
		t.Errorf("first status record = %+v", recs[3])
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
