// internal/assistant/retrying.go
package assistant

import (
	"context"
	"errors"

	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/retry"
)

// RetryingGenerator repeats failed generations with exponential backoff.
// Configuration errors, rate limits and rejected credentials are returned at
// once; rotation handles the latter two.
type RetryingGenerator struct {
	inner  Generator
	policy retry.Policy
	logger logger.Logger
}

func NewRetryingGenerator(inner Generator, policy retry.Policy, log logger.Logger) *RetryingGenerator {
	policy.ShouldRetry = func(err error) bool {
		switch {
		case errors.Is(err, ErrConfiguration), errors.Is(err, context.Canceled):
			return false
		case IsRateLimited(err), IsCredentialRejected(err):
			return false
		}
		return true
	}
	return &RetryingGenerator{inner: inner, policy: policy, logger: log}
}

func (g *RetryingGenerator) Name() string { return g.inner.Name() }

func (g *RetryingGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var out string
	err := retry.WithBackoff(ctx, g.policy, g.logger, "generate:"+g.inner.Name(), func(ctx context.Context) error {
		var err error
		out, err = g.inner.Generate(ctx, prompt, opts)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
