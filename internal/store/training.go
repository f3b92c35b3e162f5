// internal/store/training.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shopdesk/internal/models"
)

type TrainingStore struct {
	db *sql.DB
}

func NewTrainingStore(db *sql.DB) *TrainingStore {
	return &TrainingStore{db: db}
}

type TrainingFilter struct {
	Category models.Category
	Limit    int
	Offset   int
}

// Insert stores pairs, skipping any whose (conversation, message) key is
// already present. It returns how many rows were new.
func (s *TrainingStore) Insert(ctx context.Context, pairs []models.TrainingPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO training_pairs (conversation_id, message_id, customer_message, employee_response, context, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id, message_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %v", ErrWriteFailed, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range pairs {
		if strings.TrimSpace(p.CustomerMessage) == "" || strings.TrimSpace(p.EmployeeResponse) == "" {
			continue
		}
		if p.ConversationID == "" || p.MessageID == "" {
			return inserted, fmt.Errorf("%w: conversation and message id are required", ErrInvalidInput)
		}
		res, err := stmt.ExecContext(ctx,
			p.ConversationID, p.MessageID, p.CustomerMessage, p.EmployeeResponse,
			nullString(p.Context), nullString(string(models.ParseCategory(string(p.Category)))))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}
	return inserted, nil
}

// List returns pairs newest first.
func (s *TrainingStore) List(ctx context.Context, f TrainingFilter) ([]models.TrainingPair, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT id, conversation_id, message_id, customer_message, employee_response,
		       COALESCE(context, ''), COALESCE(category, ''), created_at
		FROM training_pairs`
	args := []interface{}{}
	if f.Category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(f.Category))
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []models.TrainingPair
	for rows.Next() {
		var p models.TrainingPair
		var category string
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.MessageID, &p.CustomerMessage,
			&p.EmployeeResponse, &p.Context, &category, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		p.Category = models.Category(category)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return out, nil
}

func (s *TrainingStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM training_pairs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: training pair %d", ErrNotFound, id)
	}
	return nil
}

func (s *TrainingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_pairs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
