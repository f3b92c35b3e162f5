// internal/autoreply/service.go
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"shopdesk/internal/assistant"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/observability"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
	"shopdesk/internal/store"
)

type Action string

const (
	ActionSent    Action = "sent"
	ActionHandoff Action = "handoff"
	ActionSkipped Action = "skipped"
)

const (
	ReasonEcho          = "echo"
	ReasonEmpty         = "empty_message"
	ReasonDuplicate     = "duplicate"
	ReasonDisabled      = "auto_reply_disabled"
	ReasonSentinel      = "sentinel"
	ReasonFallback      = "fallback"
	ReasonLowConfidence = "low_confidence"
	ReasonEmptyReply    = "empty_reply"
	ReasonSendFailed    = "send_failed"
	ReasonConfigError   = "config_error"
)

// Decision is what happened to one inbound message.
type Decision struct {
	Action     Action  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
	Reply      string  `json:"reply,omitempty"`
	Confidence float64 `json:"confidence"`
	MessageID  string  `json:"messageId,omitempty"`
}

type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req assistant.Request) (assistant.Response, error)
	Fallback() assistant.Response
	Builder() *assistant.PromptBuilder
}

type SettingsSource interface {
	Get(ctx context.Context) (models.Settings, error)
}

type TrainingSource interface {
	List(ctx context.Context, f store.TrainingFilter) ([]models.TrainingPair, error)
}

type ProductSource interface {
	Summaries(ctx context.Context, limit int) ([]models.ProductSummary, error)
}

type ConversationLog interface {
	Append(ctx context.Context, conversationID string, turn models.ConversationTurn) error
	Recent(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error)
}

type Sender interface {
	SendText(ctx context.Context, platform, recipientID, text string) (string, error)
}

type Archiver interface {
	Store(ctx context.Context, msg models.ArchivedMessage) (string, error)
}

// Deduper reports whether a webhook message id is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, messageID string) (bool, error)
}

type DecisionRecorder interface {
	RecordReplyDecision(ctx context.Context, action string)
}

type Deps struct {
	Pipeline      ReplyGenerator
	Settings      SettingsSource
	Training      TrainingSource
	Products      ProductSource
	Conversations ConversationLog
	Sender        Sender
	Escalator     Escalator
	Archive       Archiver         // optional
	Dedup         Deduper          // optional
	Recorder      DecisionRecorder // optional
	Logger        logger.Logger
}

// Service decides, per inbound message, whether the shop replies
// automatically or hands the conversation to staff.
type Service struct {
	Deps
	logger logger.Logger
}

func New(d Deps) (*Service, error) {
	switch {
	case d.Pipeline == nil:
		return nil, errors.New("autoreply: pipeline is required")
	case d.Settings == nil || d.Training == nil || d.Products == nil || d.Conversations == nil:
		return nil, errors.New("autoreply: stores are required")
	case d.Sender == nil:
		return nil, errors.New("autoreply: sender is required")
	}
	if d.Escalator == nil {
		d.Escalator = NopEscalator{}
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{Deps: d, logger: log.WithFields(map[string]interface{}{"component": "autoreply"})}, nil
}

type replyContext struct {
	settings models.Settings
	pairs    []models.TrainingPair
	products []models.ProductSummary
	history  []models.ConversationTurn
}

// HandleInbound processes one webhook message end to end.
func (s *Service) HandleInbound(ctx context.Context, msg messenger.InboundMessage) (Decision, error) {
	ctx, span := observability.StartSpan(ctx, "autoreply.HandleInbound",
		attribute.String("messenger.platform", msg.Platform),
		attribute.String("messenger.message_id", msg.MessageID),
	)
	defer span.End()

	d, err := s.handle(ctx, msg)
	span.SetAttributes(attribute.String("autoreply.action", string(d.Action)), attribute.String("autoreply.reason", d.Reason))
	if err != nil {
		span.RecordError(err)
	}
	if s.Recorder != nil {
		s.Recorder.RecordReplyDecision(ctx, string(d.Action))
	}
	return d, err
}

func (s *Service) handle(ctx context.Context, msg messenger.InboundMessage) (Decision, error) {
	if msg.IsEcho {
		return Decision{Action: ActionSkipped, Reason: ReasonEcho}, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Decision{Action: ActionSkipped, Reason: ReasonEmpty}, nil
	}

	if s.Dedup != nil && msg.MessageID != "" {
		first, err := s.Dedup.FirstSeen(ctx, msg.MessageID)
		if err != nil {
			s.logger.Warn("dedup check failed, processing anyway", map[string]interface{}{"error": err})
		} else if !first {
			return Decision{Action: ActionSkipped, Reason: ReasonDuplicate}, nil
		}
	}

	convID := msg.ConversationID()
	log := s.logger.WithFields(map[string]interface{}{
		"conversationId": convID,
		"messageId":      msg.MessageID,
	})

	rc, err := s.load(ctx, convID)
	if err != nil {
		return Decision{}, err
	}

	if err := s.Conversations.Append(ctx, convID, models.ConversationTurn{Role: models.RoleCustomer, Message: text}); err != nil {
		log.Warn("failed to record customer turn", map[string]interface{}{"error": err})
	}

	if !rc.settings.AutoReplyEnabled {
		s.archive(ctx, msg, models.RoleCustomer, text, false, 0, false)
		return Decision{Action: ActionSkipped, Reason: ReasonDisabled}, nil
	}

	resp, err := s.Pipeline.GenerateReply(ctx, assistant.Request{
		CustomerMessage: text,
		TrainingPairs:   rc.pairs,
		Products:        rc.products,
		History:         rc.history,
	})
	if err != nil {
		log.Error("reply generation is not configured", map[string]interface{}{"error": err})
		d := Decision{Action: ActionHandoff, Reason: ReasonConfigError}
		s.escalate(ctx, msg, text, assistant.Response{}, d.Reason)
		s.archive(ctx, msg, models.RoleCustomer, text, false, 0, true)
		return d, err
	}

	if reason := HandoffReason(resp, s.Pipeline.Fallback(), rc.settings.ConfidenceThreshold); reason != "" {
		if reason == ReasonEmptyReply || reason == ReasonLowConfidence {
			metrics.AIHandoffs.WithLabelValues(reason).Inc()
		}
		d := Decision{Action: ActionHandoff, Reason: reason, Reply: resp.Message, Confidence: resp.Confidence}
		log.Info("conversation handed off", map[string]interface{}{
			"reason":     reason,
			"confidence": resp.Confidence,
		})
		s.escalate(ctx, msg, text, resp, reason)
		s.archive(ctx, msg, models.RoleCustomer, text, false, resp.Confidence, true)
		return d, nil
	}

	mid, err := s.Sender.SendText(ctx, msg.Platform, msg.SenderID, resp.Message)
	if err != nil {
		log.Error("auto-reply send failed", map[string]interface{}{"error": err})
		metrics.AIHandoffs.WithLabelValues(ReasonSendFailed).Inc()
		s.escalate(ctx, msg, text, resp, ReasonSendFailed)
		s.archive(ctx, msg, models.RoleCustomer, text, false, resp.Confidence, true)
		return Decision{Action: ActionHandoff, Reason: ReasonSendFailed, Reply: resp.Message, Confidence: resp.Confidence}, nil
	}

	if err := s.Conversations.Append(ctx, convID, models.ConversationTurn{Role: models.RoleEmployee, Message: resp.Message}); err != nil {
		log.Warn("failed to record reply turn", map[string]interface{}{"error": err})
	}
	s.archive(ctx, msg, models.RoleCustomer, text, false, resp.Confidence, false)
	s.archive(ctx, msg, models.RoleEmployee, resp.Message, true, resp.Confidence, false)

	log.Info("auto-reply sent", map[string]interface{}{"confidence": resp.Confidence})
	return Decision{Action: ActionSent, Reply: resp.Message, Confidence: resp.Confidence, MessageID: mid}, nil
}

// HandoffReason returns "" when the reply may be sent, otherwise one of the
// Reason constants.
func HandoffReason(resp, fallback assistant.Response, threshold float64) string {
	switch {
	case resp == fallback:
		return ReasonFallback
	case resp.ShouldHandoff:
		return ReasonSentinel
	case strings.TrimSpace(resp.Message) == "":
		return ReasonEmptyReply
	case resp.Confidence < threshold:
		return ReasonLowConfidence
	}
	return ""
}

// load fetches settings and grounding data concurrently. Only a settings
// failure is fatal; missing grounding data degrades the prompt.
func (s *Service) load(ctx context.Context, convID string) (replyContext, error) {
	limits := s.Pipeline.Builder().Limits()
	var rc replyContext

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.Settings.Get(gctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		rc.settings = st
		return nil
	})
	g.Go(func() error {
		pairs, err := s.Training.List(gctx, store.TrainingFilter{Limit: limits.TrainingPairs})
		if err != nil {
			s.logger.Warn("training pairs unavailable", map[string]interface{}{"error": err})
			return nil
		}
		rc.pairs = pairs
		return nil
	})
	g.Go(func() error {
		products, err := s.Products.Summaries(gctx, limits.Products)
		if err != nil {
			s.logger.Warn("products unavailable", map[string]interface{}{"error": err})
			return nil
		}
		rc.products = products
		return nil
	})
	g.Go(func() error {
		history, err := s.Conversations.Recent(gctx, convID, limits.HistoryTurns)
		if err != nil {
			s.logger.Warn("history unavailable", map[string]interface{}{"error": err})
			return nil
		}
		rc.history = history
		return nil
	})

	if err := g.Wait(); err != nil {
		return replyContext{}, err
	}
	return rc, nil
}

func (s *Service) escalate(ctx context.Context, msg messenger.InboundMessage, text string, resp assistant.Response, reason string) {
	notice := models.HandoffNotice{
		ConversationID:  msg.ConversationID(),
		Platform:        msg.Platform,
		SenderID:        msg.SenderID,
		CustomerMessage: text,
		SuggestedReply:  resp.Message,
		Confidence:      resp.Confidence,
		Reason:          reason,
	}
	if err := s.Escalator.Escalate(ctx, notice); err != nil {
		s.logger.Error("handoff escalation failed", map[string]interface{}{
			"conversationId": notice.ConversationID,
			"error":          err,
		})
	}
}

func (s *Service) archive(ctx context.Context, msg messenger.InboundMessage, role models.Role, text string, auto bool, confidence float64, handoff bool) {
	if s.Archive == nil {
		return
	}
	sender := msg.SenderID
	if role == models.RoleEmployee {
		sender = msg.RecipientID
	}
	created := msg.Timestamp
	if created.IsZero() || role == models.RoleEmployee {
		created = time.Now().UTC()
	}
	_, err := s.Archive.Store(ctx, models.ArchivedMessage{
		ConversationID: msg.ConversationID(),
		Platform:       msg.Platform,
		SenderID:       sender,
		Role:           role,
		Message:        text,
		AutoReplied:    auto,
		Confidence:     confidence,
		Handoff:        handoff,
		CreatedAt:      created,
	})
	if err != nil {
		s.logger.Warn("archive write failed", map[string]interface{}{"error": err})
	}
}

// Preview is a dry run of HandleInbound: same grounding and decision, but
// nothing is recorded or sent.
type Preview struct {
	Prompt    string             `json:"prompt"`
	Response  assistant.Response `json:"response"`
	WouldSend bool               `json:"wouldSend"`
	Reason    string             `json:"reason,omitempty"`
	Threshold float64            `json:"threshold"`
	AutoReply bool               `json:"autoReplyEnabled"`
}

func (s *Service) Preview(ctx context.Context, text string, history []models.ConversationTurn) (Preview, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Preview{}, errors.New("message is required")
	}
	rc, err := s.load(ctx, "")
	if err != nil {
		return Preview{}, err
	}
	if history != nil {
		rc.history = history
	}

	prompt := s.Pipeline.Builder().Build(assistant.PromptInput{
		CustomerMessage: text,
		TrainingPairs:   rc.pairs,
		Products:        rc.products,
		History:         rc.history,
	})
	resp, err := s.Pipeline.GenerateReply(ctx, assistant.Request{
		CustomerMessage: text,
		TrainingPairs:   rc.pairs,
		Products:        rc.products,
		History:         rc.history,
	})
	if err != nil {
		return Preview{}, err
	}

	reason := HandoffReason(resp, s.Pipeline.Fallback(), rc.settings.ConfidenceThreshold)
	return Preview{
		Prompt:    prompt,
		Response:  resp,
		WouldSend: reason == "" && rc.settings.AutoReplyEnabled,
		Reason:    reason,
		Threshold: rc.settings.ConfidenceThreshold,
		AutoReply: rc.settings.AutoReplyEnabled,
	}, nil
}
