// internal/models/conversation.go
package models

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleEmployee Role = "employee"
)

type ConversationTurn struct {
	Role    Role   `json:"role" yaml:"role"`
	Message string `json:"message" yaml:"message"`
}

// ArchivedMessage is a conversation message as stored in the search archive.
type ArchivedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Platform       string    `json:"platform"`
	SenderID       string    `json:"senderId"`
	Role           Role      `json:"role"`
	Message        string    `json:"message"`
	AutoReplied    bool      `json:"autoReplied"`
	Confidence     float64   `json:"confidence,omitempty"`
	Handoff        bool      `json:"handoff,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
