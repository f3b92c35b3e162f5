// internal/models/notification.go
package models

// HandoffNotice tells staff a conversation needs a human.
type HandoffNotice struct {
	ConversationID  string  `json:"conversationId"`
	Platform        string  `json:"platform"`
	SenderID        string  `json:"senderId"`
	CustomerMessage string  `json:"customerMessage"`
	SuggestedReply  string  `json:"suggestedReply,omitempty"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
}

type Notification struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"` // email | sms
	Recipient string `json:"recipient"`
	Status    string `json:"status"` // sent | failed | disabled
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	SentAt    string `json:"sentAt,omitempty"`
}
