// internal/workers/ai-conversation/generate-ai-reply/config.go
package generateaireply

import "time"

type Config struct {
	Timeout time.Duration
	// HistoryTurns is how many stored turns are loaded when the job carries
	// a conversation id but no history.
	HistoryTurns  int
	TrainingPairs int
	Products      int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:       30 * time.Second,
		HistoryTurns:  5,
		TrainingPairs: 10,
		Products:      20,
	}
}
