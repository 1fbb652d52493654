package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// LibSQLConversationStore persists conversations and their turns in the
// embedded libsql database. Sequences are assigned inside the append
// transaction, so they are monotonic per conversation at write time.
type LibSQLConversationStore struct {
	db *sql.DB
}

// NewLibSQLConversationStore creates a conversation store over an open
// database handle.
func NewLibSQLConversationStore(db *sql.DB) *LibSQLConversationStore {
	return &LibSQLConversationStore{db: db}
}

// GetOrCreate resolves the conversation for this exchange. An unknown id
// starts a fresh conversation (client-chosen ids are honored); an id
// owned by another user fails with ErrNotOwned.
func (s *LibSQLConversationStore) GetOrCreate(ctx context.Context, id string, userID int64) (ports.Conversation, error) {
	if id != "" {
		conv, err := s.lookup(ctx, id)
		switch {
		case err == nil:
			if conv.UserID != userID {
				return ports.Conversation{}, ports.ErrNotOwned
			}
			return conv, nil
		case !errors.Is(err, sql.ErrNoRows):
			return ports.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
	}

	conv := ports.Conversation{ID: id, UserID: userID, CreatedAt: time.Now().UTC()}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.UserID, conv.CreatedAt)
	if err != nil {
		// Lost a create race; the row may exist now.
		if existing, lookupErr := s.lookup(ctx, conv.ID); lookupErr == nil {
			if existing.UserID != userID {
				return ports.Conversation{}, ports.ErrNotOwned
			}
			return existing, nil
		}
		return ports.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *LibSQLConversationStore) lookup(ctx context.Context, id string) (ports.Conversation, error) {
	var conv ports.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.UserID, &conv.CreatedAt)
	return conv, err
}

// LoadTurns returns up to limit most recent turns, oldest first.
func (s *LibSQLConversationStore) LoadTurns(ctx context.Context, conversationID string, limit int) ([]ports.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sequence, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY sequence DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var turn ports.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Sequence, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Reverse to get chronological order (oldest first)
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// History returns a page of turns for one owned conversation, oldest
// first. A conversation owned by another user fails with ErrNotOwned; an
// unknown id returns sql.ErrNoRows.
func (s *LibSQLConversationStore) History(ctx context.Context, conversationID string, userID int64, limit, offset int) ([]ports.Turn, error) {
	conv, err := s.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ports.ErrNotOwned
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sequence, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY sequence ASC
		LIMIT ? OFFSET ?`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var turn ports.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Sequence, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// AppendExchange writes the turns of one exchange in a single
// transaction, assigning consecutive sequence numbers after the current
// maximum. Concurrent appends to the same conversation may collide on
// the primary key; the loser surfaces a retryable error.
func (s *LibSQLConversationStore) AppendExchange(ctx context.Context, conversationID string, turns []ports.Turn) ([]ports.Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM turns WHERE conversation_id = ?`,
		conversationID).Scan(&next); err != nil {
		return nil, rollback(tx, fmt.Errorf("next sequence: %w", err))
	}

	now := time.Now().UTC()
	out := make([]ports.Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn
		out[i].Sequence = next + int64(i)
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, sequence, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			conversationID, out[i].Sequence, out[i].Role, out[i].Content, out[i].CreatedAt); err != nil {
			return nil, rollback(tx, fmt.Errorf("append turn %d: %w", out[i].Sequence, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return out, nil
}

func rollback(tx *sql.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("transaction failed and rollback failed: %v (original error: %w)", rollbackErr, err)
	}
	return err
}

// Ensure LibSQLConversationStore implements the ConversationStore interface.
var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)
