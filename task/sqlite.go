package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/helpdesk/task/filter"
	_ "modernc.org/sqlite" // SQLite driver
)

// Timestamps are stored as unix nanoseconds so ordering and filter
// comparisons are plain integer comparisons.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	location_id    TEXT NOT NULL DEFAULT '',
	priority       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'new',
	created_by     TEXT NOT NULL,
	assigned_to    TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	due_date       INTEGER,
	attachments    TEXT NOT NULL DEFAULT '[]',
	rating         INTEGER,
	rating_comment TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_history (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id           TEXT NOT NULL,
	action            TEXT NOT NULL,
	performed_by      TEXT NOT NULL,
	timestamp         INTEGER NOT NULL,
	details           TEXT NOT NULL DEFAULT '{}',
	from_status       TEXT NOT NULL DEFAULT '',
	to_status         TEXT NOT NULL DEFAULT '',
	previous_assignee TEXT NOT NULL DEFAULT '',
	new_assignee      TEXT NOT NULL DEFAULT '',
	rating            INTEGER NOT NULL DEFAULT 0,
	comment           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id, timestamp);
`

const taskColumns = `id, title, description, category, location_id, priority, status,
	created_by, assigned_to, created_at, due_date, attachments, rating, rating_comment`

// SQLiteStore persists tasks and their history in one SQLite database. It
// satisfies both Store and HistoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tables exist. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts a new task.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	attachments, err := json.Marshal(nonNil(t.Attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Category, t.LocationID,
		string(t.Priority), string(t.Status),
		t.CreatedBy, t.AssignedTo,
		t.CreatedAt.UnixNano(), nullNanos(t.DueDate),
		string(attachments), nullInt(t.Rating), t.RatingComment,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	cond, err := filter.Parse(f.Query)
	if err != nil {
		return nil, err
	}

	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if f.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*f.Status))
	}
	if !cond.Empty() {
		q.WriteString(" AND " + cond.Clause)
		args = append(args, cond.Params...)
	}
	q.WriteString(fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT %d", clampLimit(f.Limit)))

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateStatus sets status=next only where the row still has expected.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, expected, next Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status=? WHERE id=? AND status=?`,
		string(next), id, string(expected),
	)
	return affected(res, err, "update status")
}

// SetAssignee records the assignee and moves the status from expected to
// assigned.
func (s *SQLiteStore) SetAssignee(ctx context.Context, id, assignee string, expected Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET assigned_to=?, status=? WHERE id=? AND status=?`,
		assignee, string(StatusAssigned), id, string(expected),
	)
	return affected(res, err, "set assignee")
}

// SetRating stores the rating and its comment.
func (s *SQLiteStore) SetRating(ctx context.Context, id string, rating int, comment string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET rating=?, rating_comment=? WHERE id=?`,
		rating, comment, id,
	)
	return affected(res, err, "set rating")
}

// Append inserts a history record and sets its ID.
func (s *SQLiteStore) Append(ctx context.Context, r *Record) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	if r.Details == nil {
		details = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history
			(task_id, action, performed_by, timestamp, details,
			 from_status, to_status, previous_assignee, new_assignee, rating, comment)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.TaskID, string(r.Action), r.Actor, r.Timestamp.UnixNano(), string(details),
		string(r.FromStatus), string(r.ToStatus), r.PreviousAssignee, r.NewAssignee,
		r.Rating, r.Comment,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// ListByTask returns the task's history newest first.
func (s *SQLiteStore) ListByTask(ctx context.Context, taskID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, action, performed_by, timestamp, details,
			from_status, to_status, previous_assignee, new_assignee, rating, comment
		FROM task_history
		WHERE task_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, taskID, MaxListLimit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var action, from, to, details string
		var ts int64
		if err := rows.Scan(
			&r.ID, &r.TaskID, &action, &r.Actor, &ts, &details,
			&from, &to, &r.PreviousAssignee, &r.NewAssignee, &r.Rating, &r.Comment,
		); err != nil {
			return nil, err
		}
		r.Action = Action(action)
		r.FromStatus = Status(from)
		r.ToStatus = Status(to)
		r.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("decode details of history record %d: %w", r.ID, err)
		}
		if len(r.Details) == 0 {
			r.Details = nil
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var priority, status, attachmentsJSON string
	var createdAt int64
	var dueDate, rating sql.NullInt64

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &t.Category, &t.LocationID,
		&priority, &status, &t.CreatedBy, &t.AssignedTo,
		&createdAt, &dueDate, &attachmentsJSON, &rating, &t.RatingComment,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	if dueDate.Valid {
		d := time.Unix(0, dueDate.Int64).UTC()
		t.DueDate = &d
	}
	if rating.Valid {
		r := int(rating.Int64)
		t.Rating = &r
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &t.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments of task %s: %w", t.ID, err)
	}
	t.Attachments = nonNil(t.Attachments)
	return &t, nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
