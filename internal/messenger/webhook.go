// internal/messenger/webhook.go
package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/validation"
)

const (
	PlatformMessenger = "messenger"
	PlatformInstagram = "instagram"

	SignatureHeader = "X-Hub-Signature-256"
)

// InboundMessage is one customer (or echoed page) text message from a
// webhook delivery.
type InboundMessage struct {
	Platform    string    `json:"platform"`
	MessageID   string    `json:"messageId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	IsEcho      bool      `json:"isEcho"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConversationID keys a thread by the customer's page-scoped id.
func (m InboundMessage) ConversationID() string {
	customer := m.SenderID
	if m.IsEcho {
		customer = m.RecipientID
	}
	return m.Platform + ":" + customer
}

var webhookSchema = validation.MustCompile("messenger-webhook", `{
	"type": "object",
	"required": ["object", "entry"],
	"properties": {
		"object": {"type": "string", "enum": ["page", "instagram"]},
		"entry": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"messaging": {"type": "array"}
				}
			}
		}
	}
}`)

// ParseWebhook extracts text messages from a webhook body. Attachments,
// reads and deliveries are skipped; echoes are returned flagged.
func ParseWebhook(body []byte) ([]InboundMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.NewWebhookInvalidError("body is not valid JSON")
	}
	if res := webhookSchema.ValidateBytes(body); !res.Valid {
		return nil, apperrors.NewWebhookInvalidError(strings.Join(res.GetErrorMessages(), "; "))
	}

	platform := PlatformMessenger
	if gjson.GetBytes(body, "object").String() == "instagram" {
		platform = PlatformInstagram
	}

	var out []InboundMessage
	for _, entry := range gjson.GetBytes(body, "entry").Array() {
		for _, ev := range entry.Get("messaging").Array() {
			msg := ev.Get("message")
			if !msg.Exists() {
				continue
			}
			text := msg.Get("text").String()
			if strings.TrimSpace(text) == "" {
				continue
			}
			m := InboundMessage{
				Platform:    platform,
				MessageID:   msg.Get("mid").String(),
				SenderID:    ev.Get("sender.id").String(),
				RecipientID: ev.Get("recipient.id").String(),
				Text:        text,
				IsEcho:      msg.Get("is_echo").Bool(),
				Timestamp:   time.UnixMilli(ev.Get("timestamp").Int()).UTC(),
			}
			direction := "inbound"
			if m.IsEcho {
				direction = "echo"
			}
			metrics.MessengerMessages.WithLabelValues(direction, platform).Inc()
			out = append(out, m)
		}
	}
	return out, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the app
// secret. Nothing verifies against an empty secret.
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign produces the header value VerifySignature accepts.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyChallenge answers the subscription handshake. It returns the
// challenge to echo and whether the token matched.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" || !hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", false
	}
	return challenge, true
}
