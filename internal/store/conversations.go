// internal/store/conversations.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"shopdesk/internal/models"
)

type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Append(ctx context.Context, conversationID string, turn models.ConversationTurn) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (conversation_id, role, message)
		VALUES ($1, $2, $3)`, conversationID, string(turn.Role), turn.Message); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Recent returns the last limit turns in chronological order.
func (s *ConversationStore) Recent(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, message
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var role, msg string
		if err := rows.Scan(&role, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		turns = append(turns, models.ConversationTurn{Role: models.Role(role), Message: msg})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
