package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/parla/chat-backend/internal/metrics"
)

// Store persists users and chat messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureUser inserts the user row if it does not exist yet. Called before the
// first message of a user is persisted so the foreign key always resolves.
func (s *Store) EnsureUser(ctx context.Context, userID, email string, anonymous bool) error {
	const query = `
		INSERT INTO users (id, email, is_anonymous)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, userID, email, anonymous); err != nil {
		return fmt.Errorf("chat: ensure user: %w", err)
	}
	return nil
}

// CreateMessage inserts a message and returns it with its assigned ID and
// database timestamp.
func (s *Store) CreateMessage(ctx context.Context, userID string, role Role, content, conversationID string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("chat: invalid role %q", role)
	}

	const query = `
		INSERT INTO chat_messages (user_id, role, content, conversation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	msg := &Message{
		UserID:         userID,
		Role:           role,
		Content:        content,
		ConversationID: conversationID,
	}
	err := s.db.QueryRowContext(ctx, query, userID, role, content, conversationID).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: insert message: %w", err)
	}

	metrics.MessagesStored.WithLabelValues(string(role)).Inc()
	return msg, nil
}

// ConversationHistory returns the last limit messages of a conversation in
// chronological order. Only the owner's messages are visible.
func (s *Store) ConversationHistory(ctx context.Context, userID, conversationID string, limit int) ([]Message, error) {
	const query = `
		SELECT id, user_id, role, content, conversation_id, created_at
		FROM (
			SELECT id, user_id, role, content, conversation_id, created_at
			FROM chat_messages
			WHERE user_id = $1 AND conversation_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: query history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.ConversationID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate history: %w", err)
	}
	return messages, nil
}

// ListConversations returns the user's conversations, most recently active
// first, with message counts.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	const query = `
		SELECT conversation_id, COUNT(*), MAX(created_at)
		FROM chat_messages
		WHERE user_id = $1
		GROUP BY conversation_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ConversationID, &c.MessageCount, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate conversations: %w", err)
	}
	return conversations, nil
}

// DeleteConversation removes all of the user's messages in a conversation.
// Returns false if nothing was deleted.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	const query = `
		DELETE FROM chat_messages
		WHERE user_id = $1 AND conversation_id = $2`

	result, err := s.db.ExecContext(ctx, query, userID, conversationID)
	if err != nil {
		return false, fmt.Errorf("chat: delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("chat: delete conversation rows: %w", err)
	}
	return affected > 0, nil
}
