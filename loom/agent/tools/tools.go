// Package tools implements the task operations the reasoning engine may
// propose. Every tool is scoped by the authenticated caller's user id; a
// tool can neither accept nor act on a foreign identity. Argument schemas
// are enforced upstream by the validation gate, so decoding here stays
// defensive rather than exhaustive.
package tools

import (
	"errors"
	"fmt"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/tasks"
)

// ErrInvalidArgument marks argument problems the JSON schema cannot
// express, such as an unparseable date or an empty update.
var ErrInvalidArgument = errors.New("invalid argument")

// All returns the complete tool manifest backed by store.
func All(store *tasks.Store) []ports.Tool {
	return []ports.Tool{
		NewCreateTaskTool(store),
		NewListTasksTool(store),
		NewCompleteTaskTool(store),
		NewUpdateTaskTool(store),
		NewDeleteTaskTool(store),
	}
}

// parseDueDate accepts RFC3339 or a bare YYYY-MM-DD date.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: due_date must be RFC3339 or YYYY-MM-DD", ErrInvalidArgument)
}
