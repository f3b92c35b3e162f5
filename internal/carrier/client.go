// internal/carrier/client.go
package carrier

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
	"shopdesk/internal/common/database"
	apperrors "shopdesk/internal/common/errors"
	httpclient "shopdesk/internal/common/http"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/models"
)

var ErrNotConfigured = errors.New("CARRIER_NOT_CONFIGURED")

// Client is the shipping carrier API client.
type Client struct {
	baseURL  string
	username string
	password string
	shopID   string
	http     *httpclient.Client
	tokens   *TokenCache
	logger   logger.Logger
}

func NewClient(cfg config.CarrierConfig, redis *database.RedisClient, log logger.Logger) *Client {
	return NewClientWith(cfg, httpclient.NewClient(config.GetDuration(cfg.Timeout)), redis, log)
}

func NewClientWith(cfg config.CarrierConfig, hc *httpclient.Client, redis *database.RedisClient, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		shopID:   cfg.ShopID,
		http:     hc,
		logger:   log.WithFields(map[string]interface{}{"component": "carrier"}),
	}
	c.tokens = NewTokenCache(c.login, redis, log)
	return c
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

func (c *Client) login(ctx context.Context) (Token, error) {
	body, _ := sjson.SetBytes(nil, "username", c.username)
	body, _ = sjson.SetBytes(body, "password", c.password)

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/auth/login", body, nil)
	if err != nil {
		return Token{}, apperrors.NewCarrierAuthFailedError(err)
	}

	token := gjson.GetBytes(resp, "data.token").String()
	if token == "" {
		return Token{}, apperrors.NewCarrierAuthFailedError(errors.New("login response has no token"))
	}
	expiresIn := gjson.GetBytes(resp, "data.expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Token{Value: token, ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second)}, nil
}

// do runs an authenticated call. A 401 invalidates the token and the call
// is repeated once with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.DoJSON(ctx, method, c.baseURL+path, body, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if err == nil {
			return resp, nil
		}

		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logger.Warn("carrier token rejected, logging in again", nil)
			c.tokens.Invalidate(ctx)
			continue
		}
		if se != nil {
			return nil, apperrors.NewCarrierAPIError(se.StatusCode, carrierError(se))
		}
		return nil, apperrors.NewCarrierAPIError(0, err)
	}
	return nil, apperrors.NewCarrierAuthFailedError(errors.New("token rejected twice"))
}

// Shipment is the carrier's answer to a create request.
type Shipment struct {
	TrackingCode     string    `json:"trackingCode"`
	Fee              int64     `json:"fee"`
	ExpectedDelivery time.Time `json:"expectedDelivery,omitempty"`
}

// CreateShipment books delivery for a confirmed order. The order total is
// collected on delivery.
func (c *Client) CreateShipment(ctx context.Context, order models.Order, note string) (Shipment, error) {
	if order.ID == "" || len(order.Items) == 0 {
		return Shipment{}, apperrors.NewValidationError("order id and items are required")
	}

	body, _ := sjson.SetBytes(nil, "shop_id", c.shopID)
	body, _ = sjson.SetBytes(body, "client_order_code", order.ID)
	body, _ = sjson.SetBytes(body, "receiver.name", order.CustomerName)
	body, _ = sjson.SetBytes(body, "receiver.phone", order.Phone)
	body, _ = sjson.SetBytes(body, "receiver.address", order.Address)
	body, _ = sjson.SetBytes(body, "cod_amount", order.Total)
	body, _ = sjson.SetBytes(body, "note", note)
	for i, it := range order.Items {
		prefix := fmt.Sprintf("items.%d.", i)
		body, _ = sjson.SetBytes(body, prefix+"name", it.Name)
		body, _ = sjson.SetBytes(body, prefix+"quantity", it.Quantity)
		body, _ = sjson.SetBytes(body, prefix+"price", it.UnitPrice)
	}

	resp, err := c.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return Shipment{}, err
	}

	s := Shipment{
		TrackingCode: gjson.GetBytes(resp, "data.tracking_code").String(),
		Fee:          gjson.GetBytes(resp, "data.fee").Int(),
	}
	if ts := gjson.GetBytes(resp, "data.expected_delivery").String(); ts != "" {
		s.ExpectedDelivery, _ = time.Parse(time.RFC3339, ts)
	}
	if s.TrackingCode == "" {
		return Shipment{}, apperrors.NewCarrierAPIError(http.StatusOK, errors.New("response has no tracking code"))
	}

	c.logger.Info("shipment created", map[string]interface{}{
		"orderId":      order.ID,
		"trackingCode": s.TrackingCode,
		"fee":          s.Fee,
	})
	return s, nil
}

type TrackingEvent struct {
	Status   string    `json:"status"`
	Location string    `json:"location,omitempty"`
	Time     time.Time `json:"time"`
}

type Tracking struct {
	TrackingCode string          `json:"trackingCode"`
	Status       string          `json:"status"`
	Events       []TrackingEvent `json:"events"`
}

// Delivered reports whether the carrier considers the parcel handed over.
func (t Tracking) Delivered() bool {
	return t.Status == "delivered"
}

func (c *Client) TrackShipment(ctx context.Context, trackingCode string) (Tracking, error) {
	if trackingCode == "" {
		return Tracking{}, apperrors.NewValidationError("tracking code is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(trackingCode)+"/tracking", nil)
	if err != nil {
		return Tracking{}, err
	}

	t := Tracking{
		TrackingCode: trackingCode,
		Status:       gjson.GetBytes(resp, "data.status").String(),
	}
	for _, ev := range gjson.GetBytes(resp, "data.events").Array() {
		at, _ := time.Parse(time.RFC3339, ev.Get("time").String())
		t.Events = append(t.Events, TrackingEvent{
			Status:   ev.Get("status").String(),
			Location: ev.Get("location").String(),
			Time:     at,
		})
	}
	return t, nil
}

func carrierError(se *httpclient.StatusError) error {
	if msg := gjson.GetBytes(se.Body, "message"); msg.Exists() {
		return fmt.Errorf("carrier status %d: %s", se.StatusCode, msg.String())
	}
	return se
}
