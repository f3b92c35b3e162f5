// internal/workers/ai-conversation/generate-ai-reply/models.go
package generateaireply

import "shopdesk/internal/models"

type Input struct {
	CustomerMessage string                    `json:"customerMessage"`
	ConversationID  string                    `json:"conversationId,omitempty"`
	History         []models.ConversationTurn `json:"history,omitempty"`
}

type Output struct {
	Reply         string  `json:"reply"`
	Confidence    float64 `json:"confidence"`
	ShouldHandoff bool    `json:"shouldHandoff"`
	// Fallback is set when generation failed and Reply is the canned message.
	Fallback bool `json:"fallback"`
}

const inputSchema = `{
  "type": "object",
  "required": ["customerMessage"],
  "properties": {
    "customerMessage": {"type": "string", "minLength": 1},
    "conversationId": {"type": "string"},
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "message"],
        "properties": {
          "role": {"type": "string", "enum": ["customer", "employee"]},
          "message": {"type": "string"}
        }
      }
    }
  }
}`
