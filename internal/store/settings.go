// internal/store/settings.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopdesk/internal/common/database"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/models"
)

const (
	settingsCacheKey = "shopdesk:settings"
	settingsCacheTTL = 5 * time.Minute
)

// SettingsStore reads the single settings row through a Redis cache. The
// cache is optional; a nil cache or a cache error falls through to Postgres.
type SettingsStore struct {
	db     *sql.DB
	cache  *database.RedisClient
	logger logger.Logger
}

func NewSettingsStore(db *sql.DB, cache *database.RedisClient, log logger.Logger) *SettingsStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &SettingsStore{db: db, cache: cache, logger: log.WithFields(map[string]interface{}{"component": "settings-store"})}
}

// Get returns the current settings. A missing row yields the defaults.
func (s *SettingsStore) Get(ctx context.Context) (models.Settings, error) {
	if s.cache != nil {
		var cached models.Settings
		err := s.cache.GetJSON(ctx, settingsCacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, database.ErrCacheMiss) {
			s.logger.Warn("settings cache read failed", map[string]interface{}{"error": err})
		}
	}

	settings := models.DefaultSettings()
	err := s.db.QueryRowContext(ctx, `
		SELECT auto_reply_enabled, confidence_threshold, updated_at
		FROM shop_settings
		WHERE id = 1`).Scan(&settings.AutoReplyEnabled, &settings.ConfidenceThreshold, &settings.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Settings{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	s.store(ctx, settings)
	return settings, nil
}

// Update writes the settings row and refreshes the cache.
func (s *SettingsStore) Update(ctx context.Context, settings models.Settings) (models.Settings, error) {
	if settings.ConfidenceThreshold < 0 || settings.ConfidenceThreshold > 1 {
		return models.Settings{}, fmt.Errorf("%w: confidence threshold must be within [0,1]", ErrInvalidInput)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shop_settings (id, auto_reply_enabled, confidence_threshold, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET auto_reply_enabled = EXCLUDED.auto_reply_enabled,
		    confidence_threshold = EXCLUDED.confidence_threshold,
		    updated_at = EXCLUDED.updated_at
		RETURNING updated_at`,
		settings.AutoReplyEnabled, settings.ConfidenceThreshold,
	).Scan(&settings.UpdatedAt)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.store(ctx, settings)
	s.logger.Info("settings updated", map[string]interface{}{
		"autoReplyEnabled":    settings.AutoReplyEnabled,
		"confidenceThreshold": settings.ConfidenceThreshold,
	})
	return settings, nil
}

func (s *SettingsStore) store(ctx context.Context, settings models.Settings) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, settingsCacheKey, settings, settingsCacheTTL); err != nil {
		s.logger.Warn("settings cache write failed", map[string]interface{}{"error": err})
	}
}
