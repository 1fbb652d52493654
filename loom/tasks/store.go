package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound means no task matched the (user, id) pair.
	ErrNotFound = errors.New("task not found")
	// ErrConflict means the write lost to a concurrent change.
	ErrConflict = errors.New("task conflict")
)

// IsTransient reports whether err looks like a temporary backend failure
// worth retrying (lock contention, busy handles, I/O hiccups).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "busy", "sqlite_busy", "disk i/o error", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ListOptions narrows a List call.
type ListOptions struct {
	Filter        string // "all", "pending", "completed"
	Limit         int    // 1..100, default 50
	TitleContains string // case-insensitive substring match
}

// Filter values for ListOptions.
const (
	FilterAll       = "all"
	FilterPending   = "pending"
	FilterCompleted = "completed"
)

// Store provides task persistence scoped by owning user. Every query
// carries a user_id predicate; there is no unscoped mutation path.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store over an open database handle.
func NewStore(handle *sql.DB) *Store {
	return &Store{db: handle}
}

// Create inserts a new task and fills in its assigned ID and timestamps.
func (s *Store) Create(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.RecurrenceInterval < 1 {
		task.RecurrenceInterval = 1
	}

	query := `
		INSERT INTO tasks (user_id, title, description, completed, category, due_date, priority, recurrence_pattern, recurrence_interval, recurrence_end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		task.UserID,
		task.Title,
		task.Description,
		task.Completed,
		task.Category,
		task.DueDate,
		task.Priority,
		nullIfEmpty(task.RecurrencePattern),
		task.RecurrenceInterval,
		task.RecurrenceEndDate,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted task id: %w", err)
	}
	task.ID = id
	return nil
}

// Get retrieves one task owned by userID.
func (s *Store) Get(ctx context.Context, userID, taskID int64) (*Task, error) {
	query := `
		SELECT id, user_id, title, description, completed, category, due_date, priority, recurrence_pattern, recurrence_interval, recurrence_end_date, created_at, updated_at
		FROM tasks
		WHERE id = ? AND user_id = ?
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, taskID, userID))
}

// Owner returns the owning user of a task regardless of caller. Used to
// build ownership facts ahead of validation; never exposed over the API.
func (s *Store) Owner(ctx context.Context, taskID int64) (int64, error) {
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM tasks WHERE id = ?`, taskID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up task owner: %w", err)
	}
	return owner, nil
}

// List returns the caller's tasks, newest first.
func (s *Store) List(ctx context.Context, userID int64, opts ListOptions) ([]*Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, user_id, title, description, completed, category, due_date, priority, recurrence_pattern, recurrence_interval, recurrence_end_date, created_at, updated_at
		FROM tasks
		WHERE user_id = ?
	`)
	args := []any{userID}

	switch opts.Filter {
	case FilterPending:
		sb.WriteString(" AND completed = 0")
	case FilterCompleted:
		sb.WriteString(" AND completed = 1")
	}

	if opts.TitleContains != "" {
		sb.WriteString(" AND title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.TitleContains)+"%")
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Update applies a partial patch to one owned task and returns the result.
func (s *Store) Update(ctx context.Context, userID, taskID int64, patch Patch) (*Task, error) {
	if patch.Empty() {
		return s.Get(ctx, userID, taskID)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, *patch.DueDate)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	if patch.RecurrencePattern != nil {
		sets = append(sets, "recurrence_pattern = ?")
		args = append(args, nullIfEmpty(*patch.RecurrencePattern))
	}
	if patch.RecurrenceInterval != nil {
		sets = append(sets, "recurrence_interval = ?")
		args = append(args, *patch.RecurrenceInterval)
	}
	if patch.RecurrenceEndDate != nil {
		sets = append(sets, "recurrence_end_date = ?")
		args = append(args, *patch.RecurrenceEndDate)
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ? AND user_id = ?", strings.Join(sets, ", "))
	args = append(args, taskID, userID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, userID, taskID)
}

// Complete marks one owned task as done. Completing an already-completed
// task is a no-op success, which keeps the operation safe to retry.
func (s *Store) Complete(ctx context.Context, userID, taskID int64) (*Task, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), taskID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read complete result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, userID, taskID)
}

// Delete removes one owned task and its subtasks in one transaction.
func (s *Store) Delete(ctx context.Context, userID, taskID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete subtasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// ListRecurringCompleted returns completed tasks that carry a recurrence
// rule, for the scheduler sweep.
func (s *Store) ListRecurringCompleted(ctx context.Context) ([]*Task, error) {
	query := `
		SELECT id, user_id, title, description, completed, category, due_date, priority, recurrence_pattern, recurrence_interval, recurrence_end_date, created_at, updated_at
		FROM tasks
		WHERE completed = 1 AND recurrence_pattern IS NOT NULL AND recurrence_pattern != ''
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Reopen resets a recurring task to pending with its next due date.
func (s *Store) Reopen(ctx context.Context, userID, taskID int64, due time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 0, due_date = ?, updated_at = ? WHERE id = ? AND user_id = ? AND completed = 1`,
		due, time.Now().UTC(), taskID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to reopen task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reopen result: %w", err)
	}
	if affected == 0 {
		// Raced with a delete or another sweep; nothing to do.
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row *sql.Row) (*Task, error) {
	task, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func (s *Store) scanRow(row rowScanner) (*Task, error) {
	var task Task
	var dueDate sql.NullTime
	var recurrence sql.NullString
	var recurrenceEnd sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&task.Category,
		&dueDate,
		&task.Priority,
		&recurrence,
		&task.RecurrenceInterval,
		&recurrenceEnd,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dueDate.Valid {
		task.DueDate = &dueDate.Time
	}
	if recurrence.Valid {
		task.RecurrencePattern = recurrence.String
	}
	if recurrenceEnd.Valid {
		task.RecurrenceEndDate = &recurrenceEnd.Time
	}
	return &task, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
