// internal/models/settings.go
package models

import "time"

// Settings are the operator-controlled auto-reply switches.
type Settings struct {
	AutoReplyEnabled    bool      `json:"autoReplyEnabled"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	UpdatedAt           time.Time `json:"updatedAt,omitempty"`
}

const DefaultConfidenceThreshold = 0.7

func DefaultSettings() Settings {
	return Settings{AutoReplyEnabled: false, ConfidenceThreshold: DefaultConfidenceThreshold}
}
