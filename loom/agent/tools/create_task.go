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

// CreateTaskSchema defines the JSON schema for create_task arguments.
const CreateTaskSchema = `{
  "type": "object",
  "properties": {
    "title": {
      "type": "string",
      "minLength": 1,
      "maxLength": 500,
      "description": "Task title extracted from the user's message"
    },
    "description": {
      "type": "string",
      "maxLength": 1000,
      "description": "Optional task description or additional details"
    },
    "category": {
      "type": "string",
      "maxLength": 100,
      "description": "Optional grouping label, e.g. 'errands'"
    },
    "due_date": {
      "type": "string",
      "description": "Optional due date, RFC3339 or YYYY-MM-DD"
    },
    "priority": {
      "type": "string",
      "enum": ["low", "medium", "high"],
      "description": "Optional priority, defaults to medium"
    },
    "recurrence_pattern": {
      "type": "string",
      "enum": ["daily", "weekly", "monthly", "yearly"],
      "description": "Optional recurrence rule for repeating tasks"
    },
    "recurrence_interval": {
      "type": "integer",
      "minimum": 1,
      "description": "Recurrence step, defaults to 1"
    },
    "recurrence_end_date": {
      "type": "string",
      "description": "Optional date the recurrence stops, RFC3339 or YYYY-MM-DD"
    },
    "user_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the authenticated user (provided by the system)"
    }
  },
  "required": ["title"],
  "additionalProperties": false
}`

// CreatedTask is the payload returned by create_task.
type CreatedTask struct {
	TaskID      int64      `json:"task_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Summary returns the user-facing confirmation line.
func (p CreatedTask) Summary() string {
	return fmt.Sprintf("Task '%s' created successfully", p.Title)
}

// CreateTaskTool creates a new task for the caller. It is the one
// non-retryable tool: a failed create may still have landed, and running
// it again risks a duplicate.
type CreateTaskTool struct {
	store *tasks.Store
}

// NewCreateTaskTool creates the create_task tool.
func NewCreateTaskTool(store *tasks.Store) *CreateTaskTool {
	return &CreateTaskTool{store: store}
}

// Spec returns the tool manifest entry.
func (t *CreateTaskTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "create_task",
		Description: "Create a new task for the authenticated user. Extracts the task title and optional details from the user's message.",
		JSONSchema:  []byte(CreateTaskSchema),
		Destructive: false,
		Retryable:   false,
	}
}

// Invoke inserts the task and returns its confirmation payload.
func (t *CreateTaskTool) Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error) {
	var params struct {
		Title              string `json:"title"`
		Description        string `json:"description"`
		Category           string `json:"category"`
		DueDate            string `json:"due_date"`
		Priority           string `json:"priority"`
		RecurrencePattern  string `json:"recurrence_pattern"`
		RecurrenceInterval int    `json:"recurrence_interval"`
		RecurrenceEndDate  string `json:"recurrence_end_date"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	task := &tasks.Task{
		UserID:             userID,
		Title:              strings.TrimSpace(params.Title),
		Description:        strings.TrimSpace(params.Description),
		Category:           strings.TrimSpace(params.Category),
		Priority:           params.Priority,
		RecurrencePattern:  params.RecurrencePattern,
		RecurrenceInterval: params.RecurrenceInterval,
	}
	if task.Title == "" {
		return nil, fmt.Errorf("%w: task title cannot be empty", ErrInvalidArgument)
	}
	if params.DueDate != "" {
		due, err := parseDueDate(params.DueDate)
		if err != nil {
			return nil, err
		}
		task.DueDate = &due
	}
	if params.RecurrenceEndDate != "" {
		end, err := parseDueDate(params.RecurrenceEndDate)
		if err != nil {
			return nil, err
		}
		task.RecurrenceEndDate = &end
	}

	if err := t.store.Create(ctx, task); err != nil {
		return nil, err
	}

	return CreatedTask{
		TaskID:      task.ID,
		Title:       task.Title,
		Description: task.Description,
		Completed:   task.Completed,
		DueDate:     task.DueDate,
		Priority:    task.Priority,
		CreatedAt:   task.CreatedAt,
	}, nil
}

// Ensure CreateTaskTool implements the Tool interface.
var _ ports.Tool = (*CreateTaskTool)(nil)
