package agentports

import (
	"context"
	"errors"
	"time"
)

// ErrNotOwned is returned when a caller references a conversation that
// belongs to another user. Callers surface it as not-found so that probing
// never confirms a conversation exists.
var ErrNotOwned = errors.New("conversation owned by another user")

// Turn is one message within a conversation. Sequence is server-assigned at
// write time and strictly increasing per conversation; turns are never
// mutated after creation.
type Turn struct {
	Role      string // "user" | "assistant" | "system"
	Content   string
	Sequence  int64 // 0 until persisted
	CreatedAt time.Time
}

// Conversation identifies an append-only turn log owned by one user.
type Conversation struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
}

// ConversationStore persists conversations and their turns.
type ConversationStore interface {
	// GetOrCreate returns the conversation, creating it on a user's first
	// message. A non-empty id must belong to userID; a mismatch is an
	// ownership failure, not a new conversation.
	GetOrCreate(ctx context.Context, id string, userID int64) (Conversation, error)

	// LoadTurns returns up to limit most recent turns in chronological
	// order (oldest first).
	LoadTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error)

	// AppendExchange atomically appends the turns of one exchange,
	// assigning monotonically increasing sequence numbers at write time.
	// Returns the turns with assigned sequences and timestamps.
	AppendExchange(ctx context.Context, conversationID string, turns []Turn) ([]Turn, error)
}
