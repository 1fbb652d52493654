package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/taskloom/taskloom/loom/agent"
	"github.com/taskloom/taskloom/loom/tasks"
)

// errorBody is the wire shape for every failed request. The category and
// message come from the closed vocabulary; nothing else leaks.
type errorBody struct {
	Error struct {
		Category   agent.Category    `json:"category"`
		Message    string            `json:"message"`
		Violations []agent.Violation `json:"violations,omitempty"`
	} `json:"error"`
}

func respondError(c *gin.Context, status int, category agent.Category, violations ...agent.Violation) {
	var body errorBody
	body.Error.Category = category
	body.Error.Message = agent.CategoryMessage(category)
	body.Error.Violations = violations
	c.AbortWithStatusJSON(status, body)
}

// respondInvalid reports a request-shape problem as a validation error
// with one violation, mirroring the validator's vocabulary.
func respondInvalid(c *gin.Context, field, rule, message string) {
	respondError(c, http.StatusUnprocessableEntity, agent.CategoryValidation,
		agent.Violation{Field: field, Rule: rule, Message: message})
}

// respondTaskError maps a task-store failure onto the closed categories.
// Raw error detail goes to the request log only.
func respondTaskError(c *gin.Context, err error) {
	logger := zerolog.Ctx(c.Request.Context())
	switch {
	case err == nil:
		return
	case errors.Is(err, tasks.ErrNotFound):
		respondError(c, http.StatusNotFound, agent.CategoryNotFound)
	case errors.Is(err, tasks.ErrConflict), tasks.IsTransient(err):
		logger.Warn().Err(err).Msg("task store transiently unavailable")
		respondError(c, http.StatusServiceUnavailable, agent.CategoryTransient)
	default:
		logger.Error().Err(err).Msg("task store failure")
		respondError(c, http.StatusInternalServerError, agent.CategoryInternal)
	}
}

// statusFor picks the HTTP status matching a chat reply's error category.
func statusFor(category agent.Category) int {
	switch category {
	case agent.CategoryValidation:
		return http.StatusUnprocessableEntity
	case agent.CategoryNotFound:
		return http.StatusNotFound
	case agent.CategoryUnauthorized:
		return http.StatusForbidden
	case agent.CategoryTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
