package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskloom/taskloom/loom/agent"
	"github.com/taskloom/taskloom/loom/tasks"
)

// The direct task endpoints share the store with the agent path, so a
// task created over REST is immediately visible to the assistant and
// vice versa. The same ownership scoping applies: every operation is
// keyed by (user_id, task_id).

const (
	maxTitleChars       = 500
	maxDescriptionChars = 1000
)

type createTaskRequest struct {
	UserID            int64  `json:"user_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Category          string `json:"category"`
	DueDate           string `json:"due_date"`
	Priority          string `json:"priority"`
	RecurrencePattern string `json:"recurrence_pattern"`
	// Pointer so an explicit zero is rejected rather than silently
	// treated as absent.
	RecurrenceInterval *int   `json:"recurrence_interval"`
	RecurrenceEndDate  string `json:"recurrence_end_date"`
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	filter := c.DefaultQuery("filter", tasks.FilterAll)
	switch filter {
	case tasks.FilterAll, tasks.FilterPending, tasks.FilterCompleted:
	default:
		respondInvalid(c, "filter", "enum", "filter must be one of all, pending, completed")
		return
	}

	list, err := s.store.List(c.Request.Context(), userID, tasks.ListOptions{
		Filter:        filter,
		Limit:         intQuery(c, "limit", 50),
		TitleContains: c.Query("title_contains"),
	})
	if err != nil {
		respondTaskError(c, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "body", "invalid_json", "request body must be a JSON object")
		return
	}
	if req.UserID <= 0 {
		respondInvalid(c, "user_id", "required", "user_id must be a positive integer")
		return
	}

	title := strings.TrimSpace(req.Title)
	if violations := checkTaskFields(title, req.Description, req.Priority, req.RecurrencePattern, req.RecurrenceInterval); len(violations) > 0 {
		respondError(c, http.StatusUnprocessableEntity, agent.CategoryValidation, violations...)
		return
	}

	task := &tasks.Task{
		UserID:            req.UserID,
		Title:             title,
		Description:       req.Description,
		Category:          req.Category,
		Priority:          req.Priority,
		RecurrencePattern: req.RecurrencePattern,
	}
	if req.RecurrenceInterval != nil {
		task.RecurrenceInterval = *req.RecurrenceInterval
	}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			respondInvalid(c, "due_date", "format", "due_date must be RFC3339 or YYYY-MM-DD")
			return
		}
		task.DueDate = &due
	}
	if req.RecurrenceEndDate != "" {
		end, err := parseDate(req.RecurrenceEndDate)
		if err != nil {
			respondInvalid(c, "recurrence_end_date", "format", "recurrence_end_date must be RFC3339 or YYYY-MM-DD")
			return
		}
		task.RecurrenceEndDate = &end
	}

	if err := s.store.Create(c.Request.Context(), task); err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

type updateTaskRequest struct {
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

func (s *Server) handleUpdateTask(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "body", "invalid_json", "request body must be a JSON object")
		return
	}

	patch := tasks.Patch{
		Description: req.Description,
		Category:    req.Category,
		Completed:   req.Completed,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			respondInvalid(c, "title", "blank", "title must not be blank")
			return
		}
		if len(title) > maxTitleChars {
			respondInvalid(c, "title", "max_length", "title is too long")
			return
		}
		patch.Title = &title
	}
	if req.Priority != nil {
		if !tasks.ValidPriority(*req.Priority) {
			respondInvalid(c, "priority", "enum", "priority must be one of low, medium, high")
			return
		}
		patch.Priority = req.Priority
	}
	if req.DueDate != nil {
		due, err := parseDate(*req.DueDate)
		if err != nil {
			respondInvalid(c, "due_date", "format", "due_date must be RFC3339 or YYYY-MM-DD")
			return
		}
		patch.DueDate = &due
	}
	if req.RecurrencePattern != nil {
		if !tasks.ValidRecurrence(*req.RecurrencePattern) {
			respondInvalid(c, "recurrence_pattern", "enum", "recurrence_pattern must be one of daily, weekly, monthly, yearly")
			return
		}
		patch.RecurrencePattern = req.RecurrencePattern
	}
	if req.RecurrenceInterval != nil {
		if *req.RecurrenceInterval < 1 {
			respondInvalid(c, "recurrence_interval", "min", "recurrence_interval must be at least 1")
			return
		}
		patch.RecurrenceInterval = req.RecurrenceInterval
	}
	if req.RecurrenceEndDate != nil {
		end, err := parseDate(*req.RecurrenceEndDate)
		if err != nil {
			respondInvalid(c, "recurrence_end_date", "format", "recurrence_end_date must be RFC3339 or YYYY-MM-DD")
			return
		}
		patch.RecurrenceEndDate = &end
	}
	if patch.Empty() {
		respondInvalid(c, "body", "empty_patch", "at least one field must change")
		return
	}

	task, err := s.store.Update(c.Request.Context(), userID, taskID, patch)
	if err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}

	task, err := s.store.Complete(c.Request.Context(), userID, taskID)
	if err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}

	if err := s.store.Delete(c.Request.Context(), userID, taskID); err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": taskID})
}

func pathTaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondInvalid(c, "task_id", "type", "task id must be a positive integer")
		return 0, false
	}
	return id, true
}

// checkTaskFields accumulates create-request violations so one response
// reports every problem, matching the validator's behavior on the agent
// path.
func checkTaskFields(title, description, priority, recurrence string, interval *int) []agent.Violation {
	var violations []agent.Violation
	if title == "" {
		violations = append(violations, agent.Violation{Field: "title", Rule: "required", Message: "title must not be blank"})
	}
	if len(title) > maxTitleChars {
		violations = append(violations, agent.Violation{Field: "title", Rule: "max_length", Message: "title is too long"})
	}
	if len(description) > maxDescriptionChars {
		violations = append(violations, agent.Violation{Field: "description", Rule: "max_length", Message: "description is too long"})
	}
	if priority != "" && !tasks.ValidPriority(priority) {
		violations = append(violations, agent.Violation{Field: "priority", Rule: "enum", Message: "priority must be one of low, medium, high"})
	}
	if recurrence != "" && !tasks.ValidRecurrence(recurrence) {
		violations = append(violations, agent.Violation{Field: "recurrence_pattern", Rule: "enum", Message: "recurrence_pattern must be one of daily, weekly, monthly, yearly"})
	}
	if interval != nil && *interval < 1 {
		violations = append(violations, agent.Violation{Field: "recurrence_interval", Rule: "min", Message: "recurrence_interval must be at least 1"})
	}
	return violations
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
