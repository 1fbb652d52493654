package tools

import (
	"context"
	"encoding/json"
	"fmt"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/tasks"
)

// DeleteTaskSchema defines the JSON schema for delete_task arguments.
const DeleteTaskSchema = `{
  "type": "object",
  "properties": {
    "task_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the task to delete"
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

// DeletedTask is the payload returned by delete_task.
type DeletedTask struct {
	TaskID int64  `json:"task_id"`
	Title  string `json:"title"`
}

// Summary returns the user-facing confirmation line.
func (p DeletedTask) Summary() string {
	return fmt.Sprintf("Task '%s' has been deleted", p.Title)
}

// DeleteTaskTool removes one owned task permanently.
type DeleteTaskTool struct {
	store *tasks.Store
}

// NewDeleteTaskTool creates the delete_task tool.
func NewDeleteTaskTool(store *tasks.Store) *DeleteTaskTool {
	return &DeleteTaskTool{store: store}
}

// Spec returns the tool manifest entry.
func (t *DeleteTaskTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "delete_task",
		Description: "Delete a task permanently. Requires the task's numeric id; the task must belong to the authenticated user.",
		JSONSchema:  []byte(DeleteTaskSchema),
		Destructive: true,
		Retryable:   true,
	}
}

// Invoke removes the task and returns its confirmation payload. The
// title is read first so the confirmation can name what was removed.
func (t *DeleteTaskTool) Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error) {
	var params struct {
		TaskID int64 `json:"task_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	task, err := t.store.Get(ctx, userID, params.TaskID)
	if err != nil {
		return nil, err
	}
	if err := t.store.Delete(ctx, userID, params.TaskID); err != nil {
		return nil, err
	}

	return DeletedTask{TaskID: task.ID, Title: task.Title}, nil
}

// Ensure DeleteTaskTool implements the Tool interface.
var _ ports.Tool = (*DeleteTaskTool)(nil)
