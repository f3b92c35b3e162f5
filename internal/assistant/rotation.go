// internal/assistant/rotation.go
package assistant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
)

// Factory builds a single-credential generator.
type Factory func(apiKey string) (Generator, error)

// RotatingGenerator spreads calls over an ordered credential pool. A call
// that is rate limited or whose credential is rejected is repeated with the
// next credential until one succeeds or the pool is exhausted. The last credential that worked is tried first
// on the next call.
type RotatingGenerator struct {
	name    string
	keys    []string
	factory Factory
	logger  logger.Logger

	mu      sync.Mutex
	clients []Generator
	current atomic.Int64
}

func NewRotatingGenerator(name string, keys []string, factory Factory, log logger.Logger) *RotatingGenerator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	pool := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			pool = append(pool, k)
		}
	}
	return &RotatingGenerator{
		name:    name,
		keys:    pool,
		factory: factory,
		logger:  log.WithFields(map[string]interface{}{"component": "key-rotation", "provider": name}),
		clients: make([]Generator, len(pool)),
	}
}

func (r *RotatingGenerator) Name() string { return r.name }

// PoolSize returns the number of usable credentials.
func (r *RotatingGenerator) PoolSize() int { return len(r.keys) }

// Current returns the index the next call starts from.
func (r *RotatingGenerator) Current() int { return int(r.current.Load()) }

func (r *RotatingGenerator) client(i int) (Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[i] != nil {
		return r.clients[i], nil
	}
	g, err := r.factory(r.keys[i])
	if err != nil {
		return nil, err
	}
	r.clients[i] = g
	return g, nil
}

func (r *RotatingGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	n := len(r.keys)
	if n == 0 {
		return "", NewConfigurationError("no API keys configured for %s", r.name)
	}

	start := int(r.current.Load()) % n
	var lastErr error

	for attempt := 0; attempt < n; attempt++ {
		idx := (start + attempt) % n

		g, err := r.client(idx)
		if err != nil {
			return "", err
		}

		out, err := g.Generate(ctx, prompt, opts)
		if err == nil {
			if idx != start {
				r.current.Store(int64(idx))
			}
			return out, nil
		}
		reason := rotationReason(err)
		if reason == "" {
			return "", err
		}

		lastErr = err
		metrics.AIKeyRotations.Inc()
		r.logger.Warn("credential unusable, rotating", map[string]interface{}{
			"keyIndex": idx,
			"poolSize": n,
			"attempt":  attempt + 1,
			"reason":   reason,
		})

		if ctx.Err() != nil {
			break
		}
	}

	// next call starts past the credential we just exhausted
	r.current.Store(int64((start + 1) % n))

	return "", &GenerationFailure{
		Provider:    r.name,
		RateLimited: IsRateLimited(lastErr),
		Err:         fmt.Errorf("all %d credentials failed: %w", n, lastErr),
	}
}

func rotationReason(err error) string {
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case IsCredentialRejected(err):
		return "credential_rejected"
	}
	return ""
}
