// internal/api/webhook.go
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopdesk/internal/messenger"
)

const (
	maxWebhookBody = 1 << 20
	inboundTimeout = 90 * time.Second
)

// verifyWebhook answers Meta's subscription handshake.
func (s *Server) verifyWebhook(c *gin.Context) {
	challenge, ok := messenger.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		s.opts.Messenger.VerifyToken,
	)
	if !ok {
		s.logger.Warn("webhook verification rejected", nil)
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

// receiveWebhook acknowledges immediately and processes messages in the
// background; Meta retries deliveries that take too long.
func (s *Server) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	if !s.opts.Messenger.SkipSignature {
		if s.opts.Messenger.AppSecret == "" {
			s.logger.Warn("webhook rejected: messenger.app_secret is not configured", nil)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !messenger.VerifySignature(s.opts.Messenger.AppSecret, body, c.GetHeader(messenger.SignatureHeader)) {
			s.logger.Warn("webhook signature mismatch", nil)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	msgs, err := messenger.ParseWebhook(body)
	if err != nil {
		s.respondError(c, err)
		return
	}

	for _, m := range msgs {
		if m.IsEcho {
			continue
		}
		s.wg.Add(1)
		go func(m messenger.InboundMessage) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.baseCtx, inboundTimeout)
			defer cancel()

			d, err := s.opts.AutoReply.HandleInbound(ctx, m)
			fields := map[string]interface{}{
				"messageId": m.MessageID,
				"platform":  m.Platform,
				"action":    d.Action,
				"reason":    d.Reason,
			}
			if err != nil {
				fields["error"] = err
				s.logger.Error("inbound message failed", fields)
				return
			}
			s.logger.Debug("inbound message handled", fields)
		}(m)
	}

	c.String(http.StatusOK, "EVENT_RECEIVED")
}
