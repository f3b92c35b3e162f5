// internal/carrier/token.go
package carrier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shopdesk/internal/common/database"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
)

const (
	tokenCacheKey = "shopdesk:carrier:token"
	// tokens are treated as expired this long before the carrier says so
	tokenSafetyMargin = 60 * time.Second
)

// Token is a carrier session token.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t Token) usable(now time.Time) bool {
	return t.Value != "" && now.Add(tokenSafetyMargin).Before(t.ExpiresAt)
}

// LoginFunc obtains a fresh token from the carrier.
type LoginFunc func(ctx context.Context) (Token, error)

// TokenCache keeps the carrier token in memory and, when configured, in
// Redis so that replicas share one login. Concurrent refreshes in this
// process are collapsed into one; replicas racing on a refresh may each log
// in once, which the carrier tolerates.
type TokenCache struct {
	login  LoginFunc
	redis  *database.RedisClient
	logger logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token Token
	group singleflight.Group
}

func NewTokenCache(login LoginFunc, redis *database.RedisClient, log logger.Logger) *TokenCache {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &TokenCache{
		login:  login,
		redis:  redis,
		logger: log.WithFields(map[string]interface{}{"component": "carrier-token"}),
		now:    time.Now,
	}
}

// Get returns a usable token, logging in when none is cached.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok.usable(c.now()) {
		return tok.Value, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// another caller may have refreshed while we waited
		c.mu.RLock()
		tok := c.token
		c.mu.RUnlock()
		if tok.usable(c.now()) {
			return tok, nil
		}

		if shared, ok := c.fromRedis(ctx); ok {
			c.set(shared)
			metrics.CarrierTokenRefresh.WithLabelValues("shared").Inc()
			return shared, nil
		}

		fresh, err := c.login(ctx)
		if err != nil {
			metrics.CarrierTokenRefresh.WithLabelValues("failed").Inc()
			return nil, err
		}
		if !fresh.usable(c.now()) {
			metrics.CarrierTokenRefresh.WithLabelValues("failed").Inc()
			return nil, errors.New("carrier returned an already expired token")
		}

		c.set(fresh)
		c.toRedis(ctx, fresh)
		metrics.CarrierTokenRefresh.WithLabelValues("login").Inc()
		c.logger.Info("carrier token refreshed", map[string]interface{}{"expiresAt": fresh.ExpiresAt})
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(Token).Value, nil
}

// Invalidate drops the cached token, e.g. after the carrier answered 401.
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Del(ctx, tokenCacheKey); err != nil {
			c.logger.Warn("failed to drop shared carrier token", map[string]interface{}{"error": err})
		}
	}
}

func (c *TokenCache) set(t Token) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *TokenCache) fromRedis(ctx context.Context) (Token, bool) {
	if c.redis == nil {
		return Token{}, false
	}
	var t Token
	if err := c.redis.GetJSON(ctx, tokenCacheKey, &t); err != nil {
		if !errors.Is(err, database.ErrCacheMiss) {
			c.logger.Warn("shared carrier token read failed", map[string]interface{}{"error": err})
		}
		return Token{}, false
	}
	return t, t.usable(c.now())
}

func (c *TokenCache) toRedis(ctx context.Context, t Token) {
	if c.redis == nil {
		return
	}
	ttl := t.ExpiresAt.Sub(c.now()) - tokenSafetyMargin
	if ttl <= 0 {
		return
	}
	if err := c.redis.SetJSON(ctx, tokenCacheKey, t, ttl); err != nil {
		c.logger.Warn("shared carrier token write failed", map[string]interface{}{"error": err})
	}
}
