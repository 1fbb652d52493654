package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/taskloom/taskloom/loom/agent"
	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Message        string `json:"message"`
}

// handleChat runs one stateless agent exchange.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "body", "invalid_json", "request body must be a JSON object")
		return
	}
	if req.UserID <= 0 {
		respondInvalid(c, "user_id", "required", "user_id must be a positive integer")
		return
	}
	maxChars := s.cfg.Agent.MaxMessageChars
	if maxChars <= 0 {
		maxChars = 10000
	}
	if strings.TrimSpace(req.Message) == "" {
		respondInvalid(c, "message", "required", "message must not be empty")
		return
	}
	if len(req.Message) > maxChars {
		respondInvalid(c, "message", "max_length", "message is too long")
		return
	}

	reply, err := s.runtime.Handle(c.Request.Context(), agent.ChatRequest{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Message:        req.Message,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		s.respondChatFailure(c, err)
		return
	}

	status := http.StatusOK
	if reply.Error != nil {
		status = statusFor(reply.Error.Category)
	}
	c.JSON(status, reply)
}

// respondChatFailure maps runtime-level failures, where no reply was
// produced at all, onto the closed categories.
func (s *Server) respondChatFailure(c *gin.Context, err error) {
	logger := zerolog.Ctx(c.Request.Context())
	switch {
	case errors.Is(err, agent.ErrThrottled):
		respondError(c, http.StatusTooManyRequests, agent.CategoryTransient)
	case errors.Is(err, ports.ErrNotOwned):
		// Foreign conversation reads as not-found so probing never
		// confirms one exists.
		respondError(c, http.StatusNotFound, agent.CategoryNotFound)
	case c.Request.Context().Err() != nil:
		logger.Warn().Err(err).Msg("client disconnected mid-exchange")
		respondError(c, http.StatusServiceUnavailable, agent.CategoryTransient)
	default:
		logger.Error().Err(err).Msg("chat exchange failed")
		respondError(c, http.StatusInternalServerError, agent.CategoryInternal)
	}
}

// handleHistory pages through one owned conversation, oldest first.
func (s *Server) handleHistory(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	limit := intQuery(c, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset := intQuery(c, "offset", 0)

	turns, err := s.history.History(c.Request.Context(), c.Param("id"), userID, limit, offset)
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, ports.ErrNotOwned):
		respondError(c, http.StatusNotFound, agent.CategoryNotFound)
		return
	case err != nil:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("history load failed")
		respondError(c, http.StatusInternalServerError, agent.CategoryInternal)
		return
	}

	out := make([]gin.H, 0, len(turns))
	for _, turn := range turns {
		out = append(out, gin.H{
			"role":       turn.Role,
			"content":    turn.Content,
			"sequence":   turn.Sequence,
			"created_at": turn.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": c.Param("id"),
		"turns":           out,
		"count":           len(out),
	})
}

// queryUserID reads the authenticated caller from the user_id query
// parameter, rejecting the request when absent or malformed.
func queryUserID(c *gin.Context) (int64, bool) {
	raw := c.Query("user_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondInvalid(c, "user_id", "required", "user_id must be a positive integer")
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
