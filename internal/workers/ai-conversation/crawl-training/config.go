// internal/workers/ai-conversation/crawl-training/config.go
package crawltraining

import "time"

type Config struct {
	Timeout time.Duration
	// Defaults used when the job leaves the limits at zero.
	ConversationLimit int
	MessageLimit      int
	BatchSize         int
	// AIClassify asks the model to label pairs the keyword rules leave as
	// "other".
	AIClassify bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:           10 * time.Minute,
		ConversationLimit: 200,
		MessageLimit:      200,
		BatchSize:         100,
	}
}
