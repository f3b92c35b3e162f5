// internal/autoreply/escalate.go
package autoreply

import (
	"context"
	"time"

	"shopdesk/internal/common/database"
	"shopdesk/internal/models"
)

// HandoffMessageName is the Zeebe message that starts the handoff process.
const HandoffMessageName = "conversation-handoff"

// Escalator tells staff that a conversation needs a human.
type Escalator interface {
	Escalate(ctx context.Context, notice models.HandoffNotice) error
}

type NopEscalator struct{}

func (NopEscalator) Escalate(context.Context, models.HandoffNotice) error { return nil }

type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, notice models.HandoffNotice) ([]models.Notification, error)
}

// DirectEscalator sends staff alerts in-process.
type DirectEscalator struct {
	Notifier HandoffNotifier
}

func (e DirectEscalator) Escalate(ctx context.Context, notice models.HandoffNotice) error {
	_, err := e.Notifier.NotifyHandoff(ctx, notice)
	return err
}

type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables interface{}) error
}

// ProcessEscalator hands the notice to the workflow engine; the
// notify-handoff worker does the sending. When publishing fails the
// fallback escalator (if any) is used instead.
type ProcessEscalator struct {
	Publisher MessagePublisher
	Fallback  Escalator
}

func (e ProcessEscalator) Escalate(ctx context.Context, notice models.HandoffNotice) error {
	err := e.Publisher.PublishMessage(ctx, HandoffMessageName, notice.ConversationID, notice)
	if err != nil && e.Fallback != nil {
		return e.Fallback.Escalate(ctx, notice)
	}
	return err
}

const dedupKeyPrefix = "shopdesk:webhook:seen:"

// RedisDeduper remembers webhook message ids so redelivered events are
// answered once.
type RedisDeduper struct {
	Redis *database.RedisClient
	TTL   time.Duration
}

func (d RedisDeduper) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return d.Redis.Claim(ctx, dedupKeyPrefix+messageID, ttl)
}
