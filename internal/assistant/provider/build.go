// internal/assistant/provider/build.go
package provider

import (
	"shopdesk/internal/assistant"
	"shopdesk/internal/common/config"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/retry"
)

// Build assembles the generator described by the ai config section: one
// client per API key behind key rotation, optionally wrapped in
// backoff retries.
func Build(cfg config.AIConfig, log logger.Logger) (assistant.Generator, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	var (
		factory assistant.Factory
		keys    = cfg.APIKeys
	)

	switch cfg.Provider {
	case GeminiName, "":
		factory = GeminiFactory(cfg.Model, cfg.BaseURL)
	case OpenAIName:
		factory = OpenAIFactory(cfg.Model, cfg.BaseURL)
	case MockName:
		factory = MockFactory("")
		if len(keys) == 0 {
			keys = []string{MockName}
		}
	default:
		return nil, assistant.NewConfigurationError("unknown ai provider %q", cfg.Provider)
	}

	name := cfg.Provider
	if name == "" {
		name = GeminiName
	}

	var gen assistant.Generator = assistant.NewRotatingGenerator(name, keys, factory, log)

	if cfg.Retry.Enabled {
		policy := retry.DefaultPolicy()
		if cfg.Retry.MaxRetries > 0 {
			policy.MaxRetries = cfg.Retry.MaxRetries
		}
		if cfg.Retry.InitialDelay > 0 {
			policy.InitialDelay = config.GetDuration(cfg.Retry.InitialDelay)
		}
		gen = assistant.NewRetryingGenerator(gen, policy, log)
	}

	log.Info("ai generator ready", map[string]interface{}{
		"provider": name,
		"model":    cfg.Model,
		"keys":     len(keys),
		"retry":    cfg.Retry.Enabled,
	})

	return gen, nil
}
