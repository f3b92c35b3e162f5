// internal/messenger/client.go
package messenger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"shopdesk/internal/common/config"
	apperrors "shopdesk/internal/common/errors"
	httpclient "shopdesk/internal/common/http"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
)

// Graph API limit on a single text message.
const MaxTextLength = 2000

var ErrNotConfigured = errors.New("MESSENGER_NOT_CONFIGURED")

// Client talks to the Graph API on behalf of one page.
type Client struct {
	baseURL string
	pageID  string
	token   string
	http    *httpclient.Client
	logger  logger.Logger
}

func NewClient(cfg config.MessengerConfig, log logger.Logger) *Client {
	return NewClientWith(cfg, httpclient.NewClient(config.GetDuration(cfg.Timeout)), log)
}

// NewClientWith uses the given HTTP client; tests pass httptest's.
func NewClientWith(cfg config.MessengerConfig, hc *httpclient.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GraphBaseURL, "/") + "/" + cfg.APIVersion,
		pageID:  cfg.PageID,
		token:   cfg.PageAccessToken,
		http:    hc,
		logger:  log.WithFields(map[string]interface{}{"component": "messenger"}),
	}
}

// SendText delivers a reply to a customer and returns the Graph message id.
func (c *Client) SendText(ctx context.Context, platform, recipientID, text string) (string, error) {
	if c.token == "" {
		return "", ErrNotConfigured
	}
	if recipientID == "" || strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("recipient and text are required")
	}
	if r := []rune(text); len(r) > MaxTextLength {
		text = string(r[:MaxTextLength])
	}

	body, _ := sjson.SetBytes(nil, "recipient.id", recipientID)
	body, _ = sjson.SetBytes(body, "messaging_type", "RESPONSE")
	body, err := sjson.SetBytes(body, "message.text", text)
	if err != nil {
		return "", fmt.Errorf("build message payload: %w", err)
	}

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint("me/messages", nil), body, nil)
	if err != nil {
		metrics.MessengerMessages.WithLabelValues("outbound_failed", platformLabel(platform)).Inc()
		return "", apperrors.NewMessengerSendFailedError(recipientID, graphError(err))
	}

	metrics.MessengerMessages.WithLabelValues("outbound", platformLabel(platform)).Inc()
	messageID := gjson.GetBytes(resp, "message_id").String()
	c.logger.Debug("message sent", map[string]interface{}{
		"recipientId": recipientID,
		"messageId":   messageID,
	})
	return messageID, nil
}

// Conversation is a page thread as returned by the conversations edge.
type Conversation struct {
	ID          string
	UpdatedTime time.Time
}

// Message is one message in a historical thread.
type Message struct {
	ID        string
	FromID    string
	Text      string
	CreatedAt time.Time
}

// ListConversations pages through the page's threads, newest first, until
// limit threads are collected (limit <= 0 means all).
func (c *Client) ListConversations(ctx context.Context, platform string, limit int) ([]Conversation, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{"fields": {"id,updated_time"}, "limit": {"50"}}
	if platform == "instagram" {
		q.Set("platform", "instagram")
	}
	next := c.endpoint(c.pageID+"/conversations", q)

	var out []Conversation
	for next != "" {
		resp, err := c.http.DoJSON(ctx, http.MethodGet, next, nil, nil)
		if err != nil {
			return out, apperrors.NewExternalServiceError("messenger", graphError(err))
		}
		for _, item := range gjson.GetBytes(resp, "data").Array() {
			out = append(out, Conversation{
				ID:          item.Get("id").String(),
				UpdatedTime: parseGraphTime(item.Get("updated_time").String()),
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		next = gjson.GetBytes(resp, "paging.next").String()
	}
	return out, nil
}

// Messages returns the messages of one thread, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{"fields": {"id,message,from,created_time"}, "limit": {"100"}}
	next := c.endpoint(conversationID+"/messages", q)

	var out []Message
	for next != "" && (limit <= 0 || len(out) < limit) {
		resp, err := c.http.DoJSON(ctx, http.MethodGet, next, nil, nil)
		if err != nil {
			return nil, apperrors.NewExternalServiceError("messenger", graphError(err))
		}
		for _, item := range gjson.GetBytes(resp, "data").Array() {
			out = append(out, Message{
				ID:        item.Get("id").String(),
				FromID:    item.Get("from.id").String(),
				Text:      item.Get("message").String(),
				CreatedAt: parseGraphTime(item.Get("created_time").String()),
			})
		}
		next = gjson.GetBytes(resp, "paging.next").String()
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	// the Graph API returns newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PageID is the sender id of messages written by the shop.
func (c *Client) PageID() string { return c.pageID }

func (c *Client) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("access_token", c.token)
	return c.baseURL + "/" + path + "?" + q.Encode()
}

func graphError(err error) error {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		if msg := gjson.GetBytes(se.Body, "error.message"); msg.Exists() {
			return fmt.Errorf("graph api status %d (code %d): %s",
				se.StatusCode, gjson.GetBytes(se.Body, "error.code").Int(), msg.String())
		}
	}
	return err
}

func parseGraphTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func platformLabel(p string) string {
	if p == "" {
		return PlatformMessenger
	}
	return p
}
