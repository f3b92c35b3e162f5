// internal/workers/ai-conversation/crawl-training/models.go
package crawltraining

type Input struct {
	Platform          string `json:"platform,omitempty"` // facebook | instagram
	ConversationLimit int    `json:"conversationLimit,omitempty"`
	MessageLimit      int    `json:"messageLimit,omitempty"`
}

type Output struct {
	Conversations int            `json:"conversations"`
	Pairs         int            `json:"pairs"`
	Inserted      int            `json:"inserted"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	Categories    map[string]int `json:"categories"`
}

const inputSchema = `{
  "type": "object",
  "properties": {
    "platform": {"type": "string", "enum": ["", "facebook", "instagram"]},
    "conversationLimit": {"type": "integer", "minimum": 0, "maximum": 5000},
    "messageLimit": {"type": "integer", "minimum": 0, "maximum": 2000}
  }
}`
