// internal/store/store.go
package store

import (
	"database/sql"
	"errors"

	"shopdesk/internal/common/database"
	"shopdesk/internal/common/logger"
)

var (
	ErrNotFound     = errors.New("NOT_FOUND")
	ErrQueryFailed  = errors.New("QUERY_EXECUTION_FAILED")
	ErrWriteFailed  = errors.New("DATABASE_INSERT_FAILED")
	ErrInvalidInput = errors.New("VALIDATION_FAILED")
	ErrConflict     = errors.New("INVALID_STATE_TRANSITION")
)

// Store groups the Postgres repositories.
type Store struct {
	Settings      *SettingsStore
	Training      *TrainingStore
	Products      *ProductStore
	Orders        *OrderStore
	Conversations *ConversationStore
}

func New(db *sql.DB, cache *database.RedisClient, log logger.Logger) *Store {
	return &Store{
		Settings:      NewSettingsStore(db, cache, log),
		Training:      NewTrainingStore(db),
		Products:      NewProductStore(db),
		Orders:        NewOrderStore(db),
		Conversations: NewConversationStore(db),
	}
}
