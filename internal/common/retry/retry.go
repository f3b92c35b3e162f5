// internal/common/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"time"

	"shopdesk/internal/common/logger"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1000 * time.Millisecond
)

// Policy configures WithBackoff. MaxRetries counts total attempts.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	// ShouldRetry decides whether a failed attempt is worth repeating.
	// Nil retries every error.
	ShouldRetry func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, InitialDelay: DefaultInitialDelay}
}

// WithBackoff runs operation until it succeeds, the attempts are used up, the
// policy rejects the error or ctx is done. The delay doubles after every
// failed attempt.
func WithBackoff(ctx context.Context, p Policy, log logger.Logger, operationName string, operation func(context.Context) error) error {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	var err error
	delay := p.InitialDelay

	for i := 0; i < p.MaxRetries; i++ {
		err = operation(ctx)
		if err == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}

		if i < p.MaxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  p.MaxRetries,
				"nextRetryIn": delay.String(),
			})

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, i+1, err)
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, p.MaxRetries, err)
}
