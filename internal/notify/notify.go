// internal/notify/notify.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	awsclient "shopdesk/internal/common/aws"
	"shopdesk/internal/common/config"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/models"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"

	// one GSM-7 segment is 160 chars; Vietnamese text is UCS-2 (70)
	maxSMSRunes = 140
)

type EmailSender interface {
	SendTextEmail(ctx context.Context, to []string, subject, body string) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`[shopdesk] Cần nhân viên hỗ trợ: {{.ConversationID}}`))

	bodyTmpl = template.Must(template.New("body").Parse(`Cuộc hội thoại cần nhân viên xử lý.

Kênh: {{.Platform}}
Hội thoại: {{.ConversationID}}
Khách hàng: {{.SenderID}}
Lý do: {{.Reason}}
Độ tin cậy: {{printf "%.2f" .Confidence}}

Tin nhắn của khách:
{{.CustomerMessage}}
{{if .SuggestedReply}}
Gợi ý trả lời:
{{.SuggestedReply}}
{{end}}`))
)

// Notifier alerts staff when a conversation is escalated.
type Notifier struct {
	email           EmailSender
	sms             SMSSender
	emailRecipients []string
	smsRecipients   []string
	logger          logger.Logger
}

func New(cfg config.NotificationConfig, email EmailSender, sms SMSSender, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	n := &Notifier{logger: log.WithFields(map[string]interface{}{"component": "notify"})}
	if cfg.Email.Enabled && email != nil {
		n.email = email
		n.emailRecipients = cfg.Email.Recipients
	}
	if cfg.SMS.Enabled && sms != nil {
		n.sms = sms
		n.smsRecipients = cfg.SMS.Recipients
	}
	return n
}

// NewFromConfig builds the AWS clients for every enabled channel.
func NewFromConfig(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	var (
		email EmailSender
		sms   SMSSender
	)
	if cfg.Email.Enabled {
		c, err := awsclient.NewSESClient(ctx, cfg.AWS.Region, cfg.Email.FromEmail)
		if err != nil {
			return nil, fmt.Errorf("create SES client: %w", err)
		}
		email = c
	}
	if cfg.SMS.Enabled {
		c, err := awsclient.NewSNSClient(ctx, cfg.AWS.Region, cfg.SMS.SenderID)
		if err != nil {
			return nil, fmt.Errorf("create SNS client: %w", err)
		}
		sms = c
	}
	return New(cfg, email, sms, log), nil
}

func (n *Notifier) Enabled() bool {
	return (n.email != nil && len(n.emailRecipients) > 0) || (n.sms != nil && len(n.smsRecipients) > 0)
}

func Render(notice models.HandoffNotice) (subject, body string, err error) {
	var s, b bytes.Buffer
	if err := subjectTmpl.Execute(&s, notice); err != nil {
		return "", "", err
	}
	if err := bodyTmpl.Execute(&b, notice); err != nil {
		return "", "", err
	}
	return s.String(), b.String(), nil
}

// SMSText is the short form of a notice.
func SMSText(notice models.HandoffNotice) string {
	text := fmt.Sprintf("[shopdesk] %s can ho tro (%s): %s", notice.ConversationID, notice.Reason, notice.CustomerMessage)
	if utf8.RuneCountInString(text) <= maxSMSRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxSMSRunes-3]) + "..."
}

// NotifyHandoff sends the notice on every enabled channel. A channel failure
// does not stop the others; the returned error is set only when nothing was
// delivered and at least one send failed.
func (n *Notifier) NotifyHandoff(ctx context.Context, notice models.HandoffNotice) ([]models.Notification, error) {
	if !n.Enabled() {
		return []models.Notification{{ID: uuid.NewString(), Status: StatusDisabled}}, nil
	}

	subject, body, err := Render(notice)
	if err != nil {
		return nil, fmt.Errorf("render handoff notice: %w", err)
	}

	var (
		out     []models.Notification
		failed  []string
		success int
	)

	if n.email != nil && len(n.emailRecipients) > 0 {
		rcpt := strings.Join(n.emailRecipients, ",")
		id, err := n.email.SendTextEmail(ctx, n.emailRecipients, subject, body)
		out = append(out, n.record(ChannelEmail, rcpt, id, err))
		if err != nil {
			failed = append(failed, ChannelEmail)
		} else {
			success++
		}
	}

	if n.sms != nil {
		text := SMSText(notice)
		for _, phone := range n.smsRecipients {
			id, err := n.sms.SendSMS(ctx, phone, text)
			out = append(out, n.record(ChannelSMS, phone, id, err))
			if err != nil {
				failed = append(failed, ChannelSMS)
			} else {
				success++
			}
		}
	}

	if success == 0 && len(failed) > 0 {
		return out, apperrors.NewNotificationSendFailedError(strings.Join(failed, ","), fmt.Errorf("all %d deliveries failed", len(failed)))
	}
	return out, nil
}

func (n *Notifier) record(channel, recipient, messageID string, err error) models.Notification {
	rec := models.Notification{
		ID:        uuid.NewString(),
		Channel:   channel,
		Recipient: recipient,
		MessageID: messageID,
		Status:    StatusSent,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		rec.SentAt = ""
		n.logger.Error("handoff notification failed", map[string]interface{}{
			"channel":   channel,
			"recipient": recipient,
			"error":     err,
		})
	}
	metrics.NotificationsSent.WithLabelValues(channel, rec.Status).Inc()
	return rec
}
