package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/helpdesk/comms"
	"github.com/GoCodeAlone/helpdesk/task/filter"
)

var tracer = otel.Tracer("github.com/GoCodeAlone/helpdesk/task")

// Service coordinates the transition policy with the task and history
// stores. Every successful mutation is followed by exactly one history
// record. Service keeps no task state of its own and is safe for concurrent
// use; races between writers are resolved by the store's conditional
// updates.
type Service struct {
	tasks   Store
	history HistoryStore
	bus     comms.Bus
	logger  *slog.Logger
	now     func() time.Time

	offsets              map[Priority]time.Duration
	allowUnknownPriority bool
	terminalAssign       bool
	listLimit            int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus publishes a notification after every recorded mutation.
func WithBus(b comms.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithDueOffsets overrides the due-date offset of individual priorities.
func WithDueOffsets(m map[Priority]time.Duration) Option {
	return func(s *Service) {
		for p, d := range m {
			s.offsets[p] = d
		}
	}
}

// WithUnknownPriority accepts priorities outside the known set; such tasks
// are due after DefaultDueOffset.
func WithUnknownPriority(allow bool) Option {
	return func(s *Service) { s.allowUnknownPriority = allow }
}

// WithTerminalAssign controls whether AssignTask may move a closed or
// rejected task back to assigned. Enabled by default.
func WithTerminalAssign(allow bool) Option {
	return func(s *Service) { s.terminalAssign = allow }
}

// WithListLimit sets the default and maximum ListTasks page size, capped at
// MaxListLimit.
func WithListLimit(n int) Option {
	return func(s *Service) { s.listLimit = clampLimit(n) }
}

// NewService returns a Service over the given stores.
func NewService(tasks Store, history HistoryStore, opts ...Option) *Service {
	s := &Service{
		tasks:          tasks,
		history:        history,
		logger:         slog.Default(),
		now:            time.Now,
		offsets:        make(map[Priority]time.Duration),
		terminalAssign: true,
		listLimit:      MaxListLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask stores a new task in status new and records its creation.
func (s *Service) CreateTask(ctx context.Context, in CreateInput, actor string) (t *Task, err error) {
	ctx, span := tracer.Start(ctx, "task.CreateTask")
	defer func() { endSpan(span, err) }()

	in.Title = strings.TrimSpace(in.Title)
	if actor == "" {
		return nil, newError(ErrValidation, "actor is required")
	}
	if in.Title == "" {
		return nil, newError(ErrValidation, "title is required")
	}
	if !IsValidPriority(in.Priority) && !s.allowUnknownPriority {
		return nil, newError(ErrValidation, "unknown priority %q", in.Priority)
	}

	now := s.now().UTC()
	due := now.Add(s.dueOffset(in.Priority))
	t = &Task{
		ID:          NewID(now),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		LocationID:  in.LocationID,
		Priority:    in.Priority,
		Status:      StatusNew,
		CreatedBy:   actor,
		CreatedAt:   now,
		DueDate:     &due,
		Attachments: append([]string{}, in.Attachments...),
	}
	span.SetAttributes(attribute.String("task.id", t.ID))

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, wrapError(ErrStore, err, "create task %s", t.ID)
	}
	s.logger.Info("task created",
		slog.String("task_id", t.ID),
		slog.String("priority", string(t.Priority)),
		slog.String("actor", actor),
	)

	rec := &Record{
		TaskID: t.ID,
		Action: ActionCreated,
		Actor:  actor,
		Details: map[string]string{
			"title":    t.Title,
			"category": t.Category,
			"priority": string(t.Priority),
		},
	}
	if err := s.record(ctx, rec, t.Status); err != nil {
		return t, err
	}
	return t, nil
}

// GetTask returns the task with the given ID.
func (s *Service) GetTask(ctx context.Context, id string) (t *Task, err error) {
	ctx, span := tracer.Start(ctx, "task.GetTask", trace.WithAttributes(attribute.String("task.id", id)))
	defer func() { endSpan(span, err) }()
	return s.load(ctx, id)
}

// ListTasks returns tasks matching f, oldest first.
func (s *Service) ListTasks(ctx context.Context, f Filter) (tasks []*Task, err error) {
	ctx, span := tracer.Start(ctx, "task.ListTasks")
	defer func() { endSpan(span, err) }()

	if f.Status != nil && !IsValidStatus(*f.Status) {
		return nil, newError(ErrInvalidStatus, "%q", *f.Status)
	}
	if _, err := filter.Parse(f.Query); err != nil {
		return nil, wrapError(ErrValidation, err, "filter %q", f.Query)
	}
	if f.Limit <= 0 || f.Limit > s.listLimit {
		f.Limit = s.listLimit
	}

	tasks, err = s.tasks.List(ctx, f)
	if err != nil {
		return nil, wrapError(ErrStore, err, "list tasks")
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	return tasks, nil
}

// UpdateStatus moves a task along the status graph.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status, actor string) (t *Task, err error) {
	ctx, span := tracer.Start(ctx, "task.UpdateStatus", trace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("task.status", string(next)),
	))
	defer func() { endSpan(span, err) }()

	if !IsValidStatus(next) {
		return nil, newError(ErrInvalidStatus, "%q", next)
	}
	if actor == "" {
		return nil, newError(ErrValidation, "actor is required")
	}

	t, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if !CanTransition(from, next) {
		return nil, newError(ErrIllegalTransition, "from %q to %q", from, next)
	}

	ok, err := s.tasks.UpdateStatus(ctx, id, from, next)
	if err != nil {
		return nil, wrapError(ErrStore, err, "update status of task %s", id)
	}
	if !ok {
		return nil, s.lostUpdate(ctx, id, from)
	}
	t.Status = next
	s.logger.Info("task status changed",
		slog.String("task_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(next)),
		slog.String("actor", actor),
	)

	rec := &Record{
		TaskID:     id,
		Action:     ActionStatusChanged,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   next,
	}
	if err := s.record(ctx, rec, t.Status); err != nil {
		return t, err
	}
	return t, nil
}

// AssignTask sets the assignee and forces the status to assigned regardless
// of the status graph. The write is conditional on the status that was
// checked, so a concurrent change yields ErrConflict.
func (s *Service) AssignTask(ctx context.Context, id, assignee, actor string) (t *Task, err error) {
	ctx, span := tracer.Start(ctx, "task.AssignTask", trace.WithAttributes(attribute.String("task.id", id)))
	defer func() { endSpan(span, err) }()

	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, newError(ErrValidation, "assignee is required")
	}
	if actor == "" {
		return nil, newError(ErrValidation, "actor is required")
	}

	t, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(t.Status) {
		if !s.terminalAssign {
			return nil, newError(ErrInvalidState, "task %s is %s", id, t.Status)
		}
		s.logger.Warn("assignment reopens terminal task",
			slog.String("task_id", id),
			slog.String("status", string(t.Status)),
			slog.String("actor", actor),
		)
	}

	ok, err := s.tasks.SetAssignee(ctx, id, assignee, t.Status)
	if err != nil {
		return nil, wrapError(ErrStore, err, "assign task %s", id)
	}
	if !ok {
		return nil, s.lostUpdate(ctx, id, t.Status)
	}
	previous := t.AssignedTo
	t.AssignedTo = assignee
	t.Status = StatusAssigned
	s.logger.Info("task assigned",
		slog.String("task_id", id),
		slog.String("assignee", assignee),
		slog.String("actor", actor),
	)

	rec := &Record{
		TaskID:           id,
		Action:           ActionAssigned,
		Actor:            actor,
		PreviousAssignee: previous,
		NewAssignee:      assignee,
	}
	if err := s.record(ctx, rec, t.Status); err != nil {
		return t, err
	}
	return t, nil
}

// RateTask stores a 1-5 rating on a completed or closed task.
func (s *Service) RateTask(ctx context.Context, id string, rating int, comment, actor string) (r *Rating, err error) {
	ctx, span := tracer.Start(ctx, "task.RateTask", trace.WithAttributes(attribute.String("task.id", id)))
	defer func() { endSpan(span, err) }()

	if rating < 1 || rating > 5 {
		return nil, newError(ErrValidation, "rating must be between 1 and 5, got %d", rating)
	}
	if actor == "" {
		return nil, newError(ErrValidation, "actor is required")
	}

	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanRate(t.Status) {
		return nil, newError(ErrInvalidState, "can only rate completed or closed tasks, task %s is %s", id, t.Status)
	}

	ok, err := s.tasks.SetRating(ctx, id, rating, comment)
	if err != nil {
		return nil, wrapError(ErrStore, err, "rate task %s", id)
	}
	if !ok {
		return nil, newError(ErrStore, "rating for task %s was not saved", id)
	}
	s.logger.Info("task rated",
		slog.String("task_id", id),
		slog.Int("rating", rating),
		slog.String("actor", actor),
	)

	r = &Rating{TaskID: id, Rating: rating, Comment: comment}
	rec := &Record{
		TaskID:  id,
		Action:  ActionRated,
		Actor:   actor,
		Rating:  rating,
		Comment: comment,
	}
	if err := s.record(ctx, rec, t.Status); err != nil {
		return r, err
	}
	return r, nil
}

// History returns the task's audit records, newest first. The task itself
// does not need to exist.
func (s *Service) History(ctx context.Context, id string) (recs []*Record, err error) {
	ctx, span := tracer.Start(ctx, "task.History", trace.WithAttributes(attribute.String("task.id", id)))
	defer func() { endSpan(span, err) }()

	recs, err = s.history.ListByTask(ctx, id)
	if err != nil {
		return nil, wrapError(ErrStore, err, "history of task %s", id)
	}
	if recs == nil {
		recs = []*Record{}
	}
	return recs, nil
}

func (s *Service) load(ctx context.Context, id string) (*Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, wrapError(ErrStore, err, "get task %s", id)
	}
	return t, nil
}

// lostUpdate explains a conditional write that matched no row.
func (s *Service) lostUpdate(ctx context.Context, id string, expected Status) error {
	_, err := s.tasks.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return newError(ErrNotFound, "%s", id)
	}
	s.logger.Warn("conditional update lost race",
		slog.String("task_id", id),
		slog.String("expected", string(expected)),
	)
	return newError(ErrConflict, "task %s is no longer %q", id, expected)
}

// record appends rec and publishes it. An append failure is returned as an
// ErrStore that also matches ErrAuditIncomplete; the mutation it describes
// stays applied.
func (s *Service) record(ctx context.Context, rec *Record, status Status) error {
	rec.Timestamp = s.now().UTC()
	if err := s.history.Append(ctx, rec); err != nil {
		s.logger.Error("history append failed",
			slog.String("task_id", rec.TaskID),
			slog.String("action", string(rec.Action)),
			slog.Any("err", err),
		)
		return wrapError(ErrStore, fmt.Errorf("%w: %w", ErrAuditIncomplete, err),
			"task %s %s applied", rec.TaskID, rec.Action)
	}
	s.publish(ctx, rec, status)
	return nil
}

func (s *Service) publish(ctx context.Context, rec *Record, status Status) {
	if s.bus == nil {
		return
	}
	msg := &comms.Message{
		ID:        uuid.NewString(),
		Type:      comms.TypeTaskUpdate,
		TaskID:    rec.TaskID,
		Actor:     rec.Actor,
		Action:    string(rec.Action),
		Status:    string(status),
		Timestamp: rec.Timestamp,
	}
	if rec.Action == ActionStatusChanged {
		msg.Metadata = map[string]string{"from": string(rec.FromStatus), "to": string(rec.ToStatus)}
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.logger.Warn("publish task update", slog.String("task_id", rec.TaskID), slog.Any("err", err))
	}
}

func (s *Service) dueOffset(p Priority) time.Duration {
	if d, ok := s.offsets[p]; ok {
		return d
	}
	return DueDateOffset(p)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
