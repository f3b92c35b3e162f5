// internal/workers/communication/notify-handoff/models.go
package notifyhandoff

import "shopdesk/internal/models"

// Input is the handoff notice published by the auto-reply service.
type Input = models.HandoffNotice

type Output struct {
	Notified      bool                  `json:"notified"`
	Sent          int                   `json:"sent"`
	Failed        int                   `json:"failed"`
	Notifications []models.Notification `json:"notifications"`
}

const inputSchema = `{
  "type": "object",
  "required": ["conversationId", "customerMessage", "reason"],
  "properties": {
    "conversationId": {"type": "string", "minLength": 1},
    "platform": {"type": "string"},
    "senderId": {"type": "string"},
    "customerMessage": {"type": "string"},
    "suggestedReply": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string", "minLength": 1}
  }
}`
