package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/tasks"
)

// CompleteTaskSchema defines the JSON schema for complete_task arguments.
const CompleteTaskSchema = `{
  "type": "object",
  "properties": {
    "task_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the task to complete"
    },
    "user_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the authenticated user (provided by the system)"
    }
  },
  "required": ["task_id"],
  "additionalProperties": false
}`

// CompletedTask is the payload returned by complete_task.
type CompletedTask struct {
	TaskID    int64     `json:"task_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the user-facing confirmation line.
func (p CompletedTask) Summary() string {
	return fmt.Sprintf("Task '%s' marked as complete", p.Title)
}

// CompleteTaskTool marks one owned task as done. Completing a completed
// task succeeds again with the same outcome, which is what makes the
// tool safe to retry.
type CompleteTaskTool struct {
	store *tasks.Store
}

// NewCompleteTaskTool creates the complete_task tool.
func NewCompleteTaskTool(store *tasks.Store) *CompleteTaskTool {
	return &CompleteTaskTool{store: store}
}

// Spec returns the tool manifest entry.
func (t *CompleteTaskTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "complete_task",
		Description: "Mark a task as completed. Requires the task's numeric id; the task must belong to the authenticated user.",
		JSONSchema:  []byte(CompleteTaskSchema),
		Destructive: true,
		Retryable:   true,
	}
}

// Invoke completes the task and returns its confirmation payload.
func (t *CompleteTaskTool) Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error) {
	var params struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	task, err := t.store.Complete(ctx, userID, params.TaskID)
	if err != nil {
		return nil, err
	}

	return CompletedTask{
		TaskID:    task.ID,
		Title:     task.Title,
		Completed: task.Completed,
		UpdatedAt: task.UpdatedAt,
	}, nil
}

// Ensure CompleteTaskTool implements the Tool interface.
var _ ports.Tool = (*CompleteTaskTool)(nil)
