package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/tasks"
)

// UpdateTaskSchema defines the JSON schema for update_task arguments.
const UpdateTaskSchema = `{
  "type": "object",
  "properties": {
    "task_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the task to update"
    },
    "title": {
      "type": "string",
      "minLength": 1,
      "maxLength": 500,
      "description": "New title for the task"
    },
    "description": {
      "type": "string",
      "maxLength": 1000,
      "description": "New description for the task"
    },
    "category": {
      "type": "string",
      "maxLength": 100,
      "description": "New grouping label"
    },
    "due_date": {
      "type": "string",
      "description": "New due date, RFC3339 or YYYY-MM-DD"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "medium", "high"],
      "description": "New priority"
    },
    "completed": {
      "type": "boolean",
      "description": "Set the completion state directly"
    },
    "recurrence_pattern": {
      "type": "string",
      "enum": ["daily", "weekly", "monthly", "yearly"],
      "description": "New recurrence rule"
    },
    "recurrence_interval": {
      "type": "integer",
      "minimum": 1,
      "description": "New recurrence step"
    },
    "recurrence_end_date": {
      "type": "string",
      "description": "New date the recurrence stops, RFC3339 or YYYY-MM-DD"
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

// UpdatedTask is the payload returned by update_task.
type UpdatedTask struct {
	TaskID      int64     `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary returns the user-facing confirmation line.
func (p UpdatedTask) Summary() string {
	return "Task updated successfully"
}

// UpdateTaskTool applies a partial patch to one owned task.
type UpdateTaskTool struct {
	store *tasks.Store
}

// NewUpdateTaskTool creates the update_task tool.
func NewUpdateTaskTool(store *tasks.Store) *UpdateTaskTool {
	return &UpdateTaskTool{store: store}
}

// Spec returns the tool manifest entry.
func (t *UpdateTaskTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "update_task",
		Description: "Update a task's title, description, or other fields. Requires the task's numeric id plus at least one field to change; the task must belong to the authenticated user.",
		JSONSchema:  []byte(UpdateTaskSchema),
		Destructive: true,
		Retryable:   true,
	}
}

// Invoke patches the task and returns its confirmation payload.
func (t *UpdateTaskTool) Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error) {
	var params struct {
		TaskID             int64   `json:"task_id"`
		Title              *string `json:"title"`
		Description        *string `json:"description"`
		Category           *string `json:"category"`
		DueDate            *string `json:"due_date"`
		Priority           *string `json:"priority"`
		Completed          *bool   `json:"completed"`
		RecurrencePattern  *string `json:"recurrence_pattern"`
		RecurrenceInterval *int    `json:"recurrence_interval"`
		RecurrenceEndDate  *string `json:"recurrence_end_date"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	patch := tasks.Patch{
		Description:        params.Description,
		Category:           params.Category,
		Priority:           params.Priority,
		Completed:          params.Completed,
		RecurrencePattern:  params.RecurrencePattern,
		RecurrenceInterval: params.RecurrenceInterval,
	}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: task title cannot be empty", ErrInvalidArgument)
		}
		patch.Title = &title
	}
	if params.DueDate != nil {
		due, err := parseDueDate(*params.DueDate)
		if err != nil {
			return nil, err
		}
		patch.DueDate = &due
	}
	if params.RecurrenceEndDate != nil {
		end, err := parseDueDate(*params.RecurrenceEndDate)
		if err != nil {
			return nil, err
		}
		patch.RecurrenceEndDate = &end
	}

	if patch.Empty() {
		return nil, fmt.Errorf("%w: specify what you'd like to update", ErrInvalidArgument)
	}

	task, err := t.store.Update(ctx, userID, params.TaskID, patch)
	if err != nil {
		return nil, err
	}

	return UpdatedTask{
		TaskID:      task.ID,
		Title:       task.Title,
		Description: task.Description,
		Completed:   task.Completed,
		UpdatedAt:   task.UpdatedAt,
	}, nil
}

// Ensure UpdateTaskTool implements the Tool interface.
var _ ports.Tool = (*UpdateTaskTool)(nil)
