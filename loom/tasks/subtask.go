package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subtask is a checklist item within a task. Subtasks have no owner of
// their own; every operation verifies the caller through the owning
// task's user_id, and a foreign or missing parent reads as not found.
type Subtask struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	Position  int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubtaskPatch carries the mutable subtask fields; nil means unchanged.
type SubtaskPatch struct {
	Title     *string
	Completed *bool
	Position  *int
}

// Empty reports whether the patch carries no changes.
func (p SubtaskPatch) Empty() bool {
	return p.Title == nil && p.Completed == nil && p.Position == nil
}

// taskOwnedBy reports ErrNotFound unless taskID exists and belongs to
// userID.
func (s *Store) taskOwnedBy(ctx context.Context, userID, taskID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to verify task ownership: %w", err)
	}
	return nil
}

// ListSubtasks returns the checklist for one owned task, ordered by
// position.
func (s *Store) ListSubtasks(ctx context.Context, userID, taskID int64) ([]*Subtask, error) {
	if err := s.taskOwnedBy(ctx, userID, taskID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, title, completed, position, created_at, updated_at
		FROM subtasks
		WHERE task_id = ?
		ORDER BY position, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	var out []*Subtask
	for rows.Next() {
		sub, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CreateSubtask inserts a checklist item under one owned task and fills
// in its assigned ID and timestamps.
func (s *Store) CreateSubtask(ctx context.Context, userID int64, sub *Subtask) error {
	if err := s.taskOwnedBy(ctx, userID, sub.TaskID); err != nil {
		return err
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (task_id, title, completed, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.TaskID, sub.Title, sub.Completed, sub.Position, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subtask: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted subtask id: %w", err)
	}
	sub.ID = id
	return nil
}

// UpdateSubtask applies a partial patch to one subtask, scoped through
// the owning task, and returns the result.
func (s *Store) UpdateSubtask(ctx context.Context, userID, subtaskID int64, patch SubtaskPatch) (*Subtask, error) {
	if patch.Empty() {
		return s.getSubtask(ctx, userID, subtaskID)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	if patch.Position != nil {
		sets = append(sets, "position = ?")
		args = append(args, *patch.Position)
	}

	query := fmt.Sprintf(`
		UPDATE subtasks SET %s
		WHERE id = ? AND task_id IN (SELECT id FROM tasks WHERE user_id = ?)
	`, strings.Join(sets, ", "))
	args = append(args, subtaskID, userID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update subtask: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read subtask update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.getSubtask(ctx, userID, subtaskID)
}

// DeleteSubtask removes one subtask, scoped through the owning task.
func (s *Store) DeleteSubtask(ctx context.Context, userID, subtaskID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM subtasks
		WHERE id = ? AND task_id IN (SELECT id FROM tasks WHERE user_id = ?)
	`, subtaskID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete subtask: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read subtask delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getSubtask(ctx context.Context, userID, subtaskID int64) (*Subtask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT st.id, st.task_id, st.title, st.completed, st.position, st.created_at, st.updated_at
		FROM subtasks st
		JOIN tasks t ON t.id = st.task_id
		WHERE st.id = ? AND t.user_id = ?
	`, subtaskID, userID)

	sub, err := scanSubtask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

func scanSubtask(row rowScanner) (*Subtask, error) {
	var sub Subtask
	err := row.Scan(
		&sub.ID,
		&sub.TaskID,
		&sub.Title,
		&sub.Completed,
		&sub.Position,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
