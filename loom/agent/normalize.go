package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// Category is the closed caller-facing error vocabulary. Nothing outside
// this set ever reaches a client, whatever went wrong underneath.
type Category string

const (
	CategoryValidation   Category = "validation_error"
	CategoryNotFound     Category = "not_found"
	CategoryUnauthorized Category = "unauthorized"
	CategoryTransient    Category = "transient_unavailable"
	CategoryInternal     Category = "internal_error"
)

// categoryMessages are the generic, non-identifying texts paired with each
// category. Internal detail stays in the server-side log.
var categoryMessages = map[Category]string{
	CategoryValidation:   "The information provided is invalid. Please check and try again.",
	CategoryNotFound:     "Task not found. Use 'show tasks' to see your list.",
	CategoryUnauthorized: "You don't have permission to access that resource.",
	CategoryTransient:    "The service is temporarily unavailable. Please try again in a moment.",
	CategoryInternal:     "Something went wrong on our end. We're looking into it.",
}

// CategoryMessage returns the generic client-safe text paired with a
// category. Unknown categories fall back to the internal_error text.
func CategoryMessage(category Category) string {
	if message, ok := categoryMessages[category]; ok {
		return message
	}
	return categoryMessages[CategoryInternal]
}

// ReplyError is the caller-facing error payload.
type ReplyError struct {
	Category   Category    `json:"category"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
}

// Reply is the outbound response for one exchange.
type Reply struct {
	ConversationID string      `json:"conversation_id"`
	Message        string      `json:"assistant_message"`
	ToolResult     any         `json:"tool_result,omitempty"`
	Error          *ReplyError `json:"error,omitempty"`
}

// Normalizer turns tool results, verdicts, and failures into replies a
// client may see, and writes the finished exchange to the conversation
// store. Full diagnostic detail goes to the logger only.
type Normalizer struct {
	logger zerolog.Logger
}

// NewNormalizer creates a normalizer that logs internal detail to logger.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Success builds the reply for a completed tool call. composed, when
// non-empty, is a natural-language reply already generated from the tool
// outcome; otherwise the payload's own confirmation line is used.
func (n *Normalizer) Success(result ports.ToolResult, composed string) Reply {
	message := strings.TrimSpace(composed)
	if message == "" {
		message = result.Message
	}
	if message == "" {
		message = "Operation completed."
	}
	return Reply{Message: message, ToolResult: result.Payload}
}

// Text builds the reply for a plain-text engine answer with no tool call.
func (n *Normalizer) Text(text string) Reply {
	return Reply{Message: text}
}

// Rejection maps a validation verdict onto validation_error. The
// violation messages are generated here, never echoed from input, so they
// are safe to show.
func (n *Normalizer) Rejection(verdict Verdict) Reply {
	n.logger.Info().
		Int("violations", len(verdict.Violations)).
		Interface("detail", verdict.Violations).
		Msg("tool call rejected by validation")
	return Reply{
		Message: rejectionMessage(verdict.Violations),
		Error: &ReplyError{
			Category:   CategoryValidation,
			Message:    categoryMessages[CategoryValidation],
			Violations: verdict.Violations,
		},
	}
}

// Failure maps a failed ToolResult onto the closed vocabulary.
func (n *Normalizer) Failure(result ports.ToolResult) Reply {
	category := categoryFor(result.Kind)
	n.logger.Error().
		Str("kind", result.Kind.String()).
		Str("category", string(category)).
		Int("attempts", result.Attempts).
		Err(result.Err).
		Msg("tool dispatch surfaced to caller")
	return errorReply(category)
}

// EngineFailure maps a reasoning-engine error. From the caller's side the
// assistant was simply unavailable for this turn.
func (n *Normalizer) EngineFailure(err error) Reply {
	n.logger.Error().Err(err).Msg("reasoning engine call failed")
	return errorReply(CategoryTransient)
}

// Internal maps an unclassified failure to the one generic category that
// admits nothing about the cause.
func (n *Normalizer) Internal(err error) Reply {
	n.logger.Error().Err(err).Msg("unclassified failure")
	return errorReply(CategoryInternal)
}

// StoreFailure maps a conversation-store failure that kept the exchange
// from starting or committing.
func (n *Normalizer) StoreFailure(err error) Reply {
	n.logger.Error().Err(err).Msg("conversation store failure")
	return errorReply(categoryFor(classifyToolError(err)))
}

// PersistExchange appends the user turn and the assistant turn in one
// atomic write. Sequence numbers are assigned by the store; the pair
// either commits together or not at all.
func (n *Normalizer) PersistExchange(ctx context.Context, store ports.ConversationStore, conversationID, userContent, assistantContent string) error {
	turns := []ports.Turn{
		{Role: "user", Content: userContent},
		{Role: "assistant", Content: assistantContent},
	}
	if _, err := store.AppendExchange(ctx, conversationID, turns); err != nil {
		return fmt.Errorf("persist exchange: %w", err)
	}
	return nil
}

func errorReply(category Category) Reply {
	message := categoryMessages[category]
	return Reply{
		Message: message,
		Error:   &ReplyError{Category: category, Message: message},
	}
}

// categoryFor collapses the internal error kinds onto the caller-facing
// set. Conflicts surface as transient: the losing write is safe to retry
// once the caller sees fresh state.
func categoryFor(kind ports.ErrorKind) Category {
	switch kind {
	case ports.ErrorInvalid:
		return CategoryValidation
	case ports.ErrorNotFound:
		return CategoryNotFound
	case ports.ErrorUnauthorized:
		return CategoryUnauthorized
	case ports.ErrorConflict, ports.ErrorTransient:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

// rejectionMessage joins the per-violation texts into one actionable
// reply, deferring to the generic category text when there is nothing
// to say.
func rejectionMessage(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, violation := range violations {
		if violation.Message != "" {
			parts = append(parts, violation.Message)
		}
	}
	if len(parts) == 0 {
		return categoryMessages[CategoryValidation]
	}
	joined := strings.Join(parts, "; ")
	return "I can't do that: " + joined + "."
}
