package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/tasks"
)

// ListTasksSchema defines the JSON schema for list_tasks arguments.
const ListTasksSchema = `{
  "type": "object",
  "properties": {
    "filter": {
      "type": "string",
      "enum": ["all", "pending", "completed"],
      "description": "Filter tasks by status, defaults to all"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": 100,
      "description": "Maximum number of tasks to return, defaults to 50"
    },
    "title_contains": {
      "type": "string",
      "maxLength": 200,
      "description": "Case-insensitive substring to match against titles"
    },
    "user_id": {
      "type": "integer",
      "minimum": 1,
      "description": "ID of the authenticated user (provided by the system)"
    }
  },
  "additionalProperties": false
}`

// ListedTask is one row of a list_tasks payload.
type ListedTask struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskListing is the payload returned by list_tasks.
type TaskListing struct {
	Tasks  []ListedTask `json:"tasks"`
	Count  int          `json:"count"`
	Filter string       `json:"filter"`
}

// Summary returns the user-facing count line.
func (p TaskListing) Summary() string {
	if p.Count == 0 {
		return "You have no tasks yet. Add one to get started!"
	}
	noun := "tasks"
	if p.Count == 1 {
		noun = "task"
	}
	if p.Filter == "" || p.Filter == tasks.FilterAll {
		return fmt.Sprintf("You have %d %s", p.Count, noun)
	}
	return fmt.Sprintf("You have %d %s %s", p.Count, p.Filter, noun)
}

// ListTasksTool retrieves the caller's tasks.
type ListTasksTool struct {
	store *tasks.Store
}

// NewListTasksTool creates the list_tasks tool.
func NewListTasksTool(store *tasks.Store) *ListTasksTool {
	return &ListTasksTool{store: store}
}

// Spec returns the tool manifest entry.
func (t *ListTasksTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "list_tasks",
		Description: "Retrieve tasks for the authenticated user. Supports filtering by completion status (all, pending, or completed) and by title substring.",
		JSONSchema:  []byte(ListTasksSchema),
		Destructive: false,
		Retryable:   true,
	}
}

// Invoke queries the store and shapes the listing payload.
func (t *ListTasksTool) Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error) {
	var params struct {
		Filter        string `json:"filter"`
		Limit         int    `json:"limit"`
		TitleContains string `json:"title_contains"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if params.Filter == "" {
		params.Filter = tasks.FilterAll
	}

	found, err := t.store.List(ctx, userID, tasks.ListOptions{
		Filter:        params.Filter,
		Limit:         params.Limit,
		TitleContains: params.TitleContains,
	})
	if err != nil {
		return nil, err
	}

	listing := TaskListing{
		Tasks:  make([]ListedTask, 0, len(found)),
		Count:  len(found),
		Filter: params.Filter,
	}
	for _, task := range found {
		listing.Tasks = append(listing.Tasks, ListedTask{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
			Completed:   task.Completed,
			Category:    task.Category,
			DueDate:     task.DueDate,
			Priority:    task.Priority,
			CreatedAt:   task.CreatedAt,
		})
	}
	return listing, nil
}

// Ensure ListTasksTool implements the Tool interface.
var _ ports.Tool = (*ListTasksTool)(nil)
