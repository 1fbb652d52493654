package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskloom/taskloom/loom/agent"
	"github.com/taskloom/taskloom/loom/tasks"
)

// Subtasks are checklist items under a task. The endpoints mirror the
// task surface's scoping: every operation reaches the subtask through
// the owning task's user_id, so a foreign parent reads as not found.

func (s *Server) handleListSubtasks(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}

	list, err := s.store.ListSubtasks(c.Request.Context(), userID, taskID)
	if err != nil {
		respondTaskError(c, err)
		return
	}
	if list == nil {
		list = []*tasks.Subtask{}
	}
	c.JSON(http.StatusOK, gin.H{"subtasks": list, "count": len(list)})
}

type createSubtaskRequest struct {
	UserID   int64  `json:"user_id"`
	Title    string `json:"title"`
	Position int    `json:"order"`
}

func (s *Server) handleCreateSubtask(c *gin.Context) {
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}

	var req createSubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "body", "invalid_json", "request body must be a JSON object")
		return
	}
	if req.UserID <= 0 {
		respondInvalid(c, "user_id", "required", "user_id must be a positive integer")
		return
	}

	title := strings.TrimSpace(req.Title)
	if violations := checkSubtaskTitle(title); len(violations) > 0 {
		respondError(c, http.StatusUnprocessableEntity, agent.CategoryValidation, violations...)
		return
	}

	sub := &tasks.Subtask{TaskID: taskID, Title: title, Position: req.Position}
	if err := s.store.CreateSubtask(c.Request.Context(), req.UserID, sub); err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subtask": sub})
}

type updateSubtaskRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
	Position  *int    `json:"order"`
}

func (s *Server) handleUpdateSubtask(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	subtaskID, ok := pathSubtaskID(c)
	if !ok {
		return
	}

	var req updateSubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "body", "invalid_json", "request body must be a JSON object")
		return
	}

	patch := tasks.SubtaskPatch{
		Completed: req.Completed,
		Position:  req.Position,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if violations := checkSubtaskTitle(title); len(violations) > 0 {
			respondError(c, http.StatusUnprocessableEntity, agent.CategoryValidation, violations...)
			return
		}
		patch.Title = &title
	}
	if patch.Empty() {
		respondInvalid(c, "body", "empty_patch", "at least one field must change")
		return
	}

	sub, err := s.store.UpdateSubtask(c.Request.Context(), userID, subtaskID, patch)
	if err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subtask": sub})
}

func (s *Server) handleDeleteSubtask(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	subtaskID, ok := pathSubtaskID(c)
	if !ok {
		return
	}

	if err := s.store.DeleteSubtask(c.Request.Context(), userID, subtaskID); err != nil {
		respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": subtaskID})
}

func checkSubtaskTitle(title string) []agent.Violation {
	var violations []agent.Violation
	if title == "" {
		violations = append(violations, agent.Violation{Field: "title", Rule: "required", Message: "title must not be blank"})
	}
	if len(title) > maxTitleChars {
		violations = append(violations, agent.Violation{Field: "title", Rule: "max_length", Message: "title is too long"})
	}
	return violations
}

func pathSubtaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondInvalid(c, "subtask_id", "type", "subtask id must be a positive integer")
		return 0, false
	}
	return id, true
}
