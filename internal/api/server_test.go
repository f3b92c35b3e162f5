package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopdesk/internal/archive"
	"shopdesk/internal/assistant"
	"shopdesk/internal/autoreply"
	"shopdesk/internal/carrier"
	"shopdesk/internal/common/config"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
	"shopdesk/internal/store"
)

// ==========================
// Fakes
// ==========================

type fakeSettings struct{ s models.Settings }

func (f *fakeSettings) Get(context.Context) (models.Settings, error) { return f.s, nil }

func (f *fakeSettings) Update(_ context.Context, s models.Settings) (models.Settings, error) {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return models.Settings{}, fmt.Errorf("%w: threshold", store.ErrInvalidInput)
	}
	f.s = s
	return s, nil
}

type fakeTraining struct {
	inserted []models.TrainingPair
}

func (f *fakeTraining) Insert(_ context.Context, pairs []models.TrainingPair) (int, error) {
	f.inserted = append(f.inserted, pairs...)
	return len(pairs), nil
}

func (f *fakeTraining) List(context.Context, store.TrainingFilter) ([]models.TrainingPair, error) {
	return f.inserted, nil
}

func (f *fakeTraining) Delete(_ context.Context, id int64) error {
	if id != 1 {
		return fmt.Errorf("%w: training pair %d", store.ErrNotFound, id)
	}
	return nil
}

func (f *fakeTraining) Count(context.Context) (int, error) { return len(f.inserted), nil }

type fakeProducts struct{}

func (fakeProducts) ListActive(context.Context, int) ([]models.Product, error) {
	return []models.Product{{ID: "p1", Name: "Áo thun", Price: 150000, Stock: 3, Active: true}}, nil
}

func (fakeProducts) Upsert(_ context.Context, p models.Product) (models.Product, error) {
	p.ID = "p2"
	return p, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]models.Order
	synced []string
}

func newFakeOrders(orders ...models.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]models.Order{}}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Create(_ context.Context, o models.Order) (models.Order, error) {
	if o.CustomerName == "" {
		return models.Order{}, fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	o.ID = "new"
	o.Status = models.OrderStatusPending
	o.Total = o.ComputeTotal()
	f.mu.Lock()
	f.orders[o.ID] = o
	f.mu.Unlock()
	return o, nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	return o, nil
}

func (f *fakeOrders) List(context.Context, models.OrderStatus, int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, id string, next models.OrderStatus) (models.Order, error) {
	o, err := f.Get(ctx, id)
	if err != nil {
		return o, err
	}
	if !o.Status.CanTransition(next) {
		return models.Order{}, fmt.Errorf("%w: %s -> %s", store.ErrConflict, o.Status, next)
	}
	o.Status = next
	f.mu.Lock()
	f.orders[id] = o
	f.mu.Unlock()
	return o, nil
}

func (f *fakeOrders) SetTracking(ctx context.Context, id, code string) (models.Order, error) {
	o, err := f.UpdateStatus(ctx, id, models.OrderStatusShipping)
	if err != nil {
		return o, err
	}
	o.TrackingCode = code
	f.mu.Lock()
	f.orders[id] = o
	f.mu.Unlock()
	return o, nil
}

func (f *fakeOrders) MarkSynced(_ context.Context, ids []string, _ time.Time) error {
	f.synced = append(f.synced, ids...)
	return nil
}

type fakeInbound struct {
	mu   sync.Mutex
	msgs []messenger.InboundMessage
}

func (f *fakeInbound) HandleInbound(_ context.Context, m messenger.InboundMessage) (autoreply.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return autoreply.Decision{Action: autoreply.ActionSent}, nil
}

func (f *fakeInbound) Preview(_ context.Context, text string, _ []models.ConversationTurn) (autoreply.Preview, error) {
	return autoreply.Preview{
		Prompt:    "prompt:" + text,
		Response:  assistant.Response{Message: "Dạ còn ạ", Confidence: 0.8},
		WouldSend: true,
	}, nil
}

type fakeShipper struct {
	status string
	err    error
}

func (f *fakeShipper) CreateShipment(_ context.Context, o models.Order, _ string) (carrier.Shipment, error) {
	if f.err != nil {
		return carrier.Shipment{}, f.err
	}
	return carrier.Shipment{TrackingCode: "VN-" + o.ID, Fee: 25000}, nil
}

func (f *fakeShipper) TrackShipment(_ context.Context, code string) (carrier.Tracking, error) {
	return carrier.Tracking{TrackingCode: code, Status: f.status}, nil
}

type fakeSheets struct{ appended []models.Order }

func (f *fakeSheets) Append(_ context.Context, orders []models.Order) (int, error) {
	f.appended = append(f.appended, orders...)
	return len(orders), nil
}

type fakeArchive struct{ got archive.Query }

func (f *fakeArchive) Search(_ context.Context, q archive.Query) (archive.Result, error) {
	f.got = q
	return archive.Result{Total: 1, Messages: []models.ArchivedMessage{{ID: "a1", Message: "hoàn tiền"}}}, nil
}

// ==========================
// Test Helper Functions
// ==========================

type testEnv struct {
	srv      *Server
	settings *fakeSettings
	training *fakeTraining
	orders   *fakeOrders
	inbound  *fakeInbound
	shipper  *fakeShipper
	sheets   *fakeSheets
	archive  *fakeArchive
}

func createTestConfig() (config.ServerConfig, config.MessengerConfig) {
	return config.ServerConfig{AllowedOrigins: []string{"https://admin.shop.vn"}},
		config.MessengerConfig{VerifyToken: "verify-me", AppSecret: "app-secret"}
}

func newTestEnv(t *testing.T, orders ...models.Order) *testEnv {
	t.Helper()
	serverCfg, messengerCfg := createTestConfig()
	env := &testEnv{
		settings: &fakeSettings{s: models.DefaultSettings()},
		training: &fakeTraining{},
		orders:   newFakeOrders(orders...),
		inbound:  &fakeInbound{},
		shipper:  &fakeShipper{},
		sheets:   &fakeSheets{},
		archive:  &fakeArchive{},
	}
	env.srv = New(Options{
		Server:    serverCfg,
		Messenger: messengerCfg,
		Settings:  env.settings,
		Training:  env.training,
		Products:  fakeProducts{},
		Orders:    env.orders,
		AutoReply: env.inbound,
		Shipper:   env.shipper,
		Sheets:    env.sheets,
		Archive:   env.archive,
		Ready: map[string]Checker{
			"postgres": func(context.Context) error { return nil },
		},
		Logger: logger.NewTestLogger(t),
	})
	return env
}

func (e *testEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func confirmedOrder() models.Order {
	return models.Order{
		ID: "o1", CustomerName: "Lan", Phone: "0912345678", Address: "12 Lê Lợi",
		Items:  []models.OrderItem{{Name: "Áo thun", Quantity: 1, UnitPrice: 150000}},
		Total:  150000,
		Status: models.OrderStatusConfirmed,
	}
}

// ==========================
// Probes and middleware
// ==========================

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", nil).Code)

	w := env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.srv.opts.Ready["redis"] = func(context.Context) error { return errors.New("dial tcp: refused") }
	w = env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "dial tcp: refused", decode(t, w)["checks"].(map[string]interface{})["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodOptions, "/api/settings", nil, "Origin", "https://admin.shop.vn")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.shop.vn", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(http.MethodGet, "/api/settings", nil, "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// ==========================
// Webhook
// ==========================

const webhookBody = `{"object":"page","entry":[{"id":"page-1","messaging":[
	{"sender":{"id":"psid-1"},"recipient":{"id":"page-1"},"timestamp":1700000000000,"message":{"mid":"m1","text":"còn size M không"}},
	{"sender":{"id":"page-1"},"recipient":{"id":"psid-1"},"timestamp":1700000001000,"message":{"mid":"m2","text":"Dạ còn ạ","is_echo":true}}]}]}`

func TestVerifyWebhook(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = env.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceiveWebhook(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/webhook", webhookBody,
		messenger.SignatureHeader, messenger.Sign("app-secret", []byte(webhookBody)))
	env.srv.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.inbound.msgs, 1)
	assert.Equal(t, "m1", env.inbound.msgs[0].MessageID)
}

func TestReceiveWebhook_Rejects(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/webhook", webhookBody, messenger.SignatureHeader, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := `{"object":"whatsapp","entry":[]}`
	w = env.do(http.MethodPost, "/webhook", bad, messenger.SignatureHeader, messenger.Sign("app-secret", []byte(bad)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.srv.Wait()
	assert.Empty(t, env.inbound.msgs)
}

func TestReceiveWebhook_EmptySecret(t *testing.T) {
	env := newTestEnv(t)
	env.srv.opts.Messenger.AppSecret = ""

	w := env.do(http.MethodPost, "/webhook", webhookBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/webhook", webhookBody, messenger.SignatureHeader, messenger.Sign("", []byte(webhookBody)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.srv.Wait()
	assert.Empty(t, env.inbound.msgs)

	// explicit opt-out for local development
	env.srv.opts.Messenger.SkipSignature = true
	w = env.do(http.MethodPost, "/webhook", webhookBody)
	env.srv.Wait()
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.inbound.msgs, 1)
}

// ==========================
// Settings and training
// ==========================

func TestUpdateSettings_Partial(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/settings", map[string]interface{}{"autoReplyEnabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.settings.s.AutoReplyEnabled)
	assert.Equal(t, models.DefaultConfidenceThreshold, env.settings.s.ConfidenceThreshold)

	w = env.do(http.MethodPut, "/api/settings", map[string]interface{}{"confidenceThreshold": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTraining(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/training", models.TrainingPair{CustomerMessage: "ship bao lâu", EmployeeResponse: "Dạ 2-3 ngày ạ"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, env.training.inserted, 1)
	assert.Equal(t, "manual", env.training.inserted[0].ConversationID)
	assert.NotEmpty(t, env.training.inserted[0].MessageID)

	w = env.do(http.MethodPost, "/api/training", models.TrainingPair{CustomerMessage: "only half"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/training?category=shipping", nil)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/training/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/training/2", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, "/api/training/abc", nil).Code)
}

func TestProducts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/products", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], 1)

	w = env.do(http.MethodPost, "/api/products", models.Product{Name: "Quần jean", Price: 350000})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p2", decode(t, w)["id"])
}

// ==========================
// Orders
// ==========================

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/orders", models.Order{
		CustomerName: "Lan", Phone: "0912345678", Address: "HN",
		Items: []models.OrderItem{{Name: "Áo", Quantity: 2, UnitPrice: 100000}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(200000), decode(t, w)["total"])

	w = env.do(http.MethodPost, "/api/orders", models.Order{Phone: "0912345678"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode(t, w)["error"])
}

func TestOrderStatus(t *testing.T) {
	env := newTestEnv(t, confirmedOrder())

	w := env.do(http.MethodPatch, "/api/orders/o1/status", map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPatch, "/api/orders/o1/status", map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/orders/missing", nil).Code)
}

func TestCreateShipment(t *testing.T) {
	env := newTestEnv(t, confirmedOrder())

	w := env.do(http.MethodPost, "/api/orders/o1/shipment", map[string]string{"note": "gọi trước"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	o, _ := env.orders.Get(context.Background(), "o1")
	assert.Equal(t, models.OrderStatusShipping, o.Status)
	assert.Equal(t, "VN-o1", o.TrackingCode)

	// already shipping
	w = env.do(http.MethodPost, "/api/orders/o1/shipment", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrackOrder_MarksDelivered(t *testing.T) {
	o := confirmedOrder()
	o.Status = models.OrderStatusShipping
	o.TrackingCode = "VN-o1"
	env := newTestEnv(t, o)
	env.shipper.status = "delivered"

	w := env.do(http.MethodGet, "/api/orders/o1/tracking", nil)

	require.Equal(t, http.StatusOK, w.Code)
	got, _ := env.orders.Get(context.Background(), "o1")
	assert.Equal(t, models.OrderStatusDelivered, got.Status)
}

func TestSyncOrder(t *testing.T) {
	env := newTestEnv(t, confirmedOrder())

	w := env.do(http.MethodPost, "/api/orders/o1/sync", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.sheets.appended, 1)
	assert.Equal(t, []string{"o1"}, env.orders.synced)
}

func TestIntegrationsUnavailable(t *testing.T) {
	env := newTestEnv(t, confirmedOrder())
	env.srv.opts.Shipper = nil
	env.srv.opts.Sheets = nil
	env.srv.opts.Archive = nil

	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/orders/o1/shipment", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/orders/o1/sync", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/api/conversations/search", nil).Code)
}

// ==========================
// Assistant and archive
// ==========================

func TestPreviewReply(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/ai/preview", map[string]string{"message": "còn áo không"})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "prompt:còn áo không", body["prompt"])
	assert.Equal(t, true, body["wouldSend"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/ai/preview", map[string]string{}).Code)
}

func TestSearchConversations(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/conversations/search?q=ho%C3%A0n+ti%E1%BB%81n&handoff=true&size=5&since=2025-03-01T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hoàn tiền", env.archive.got.Text)
	assert.True(t, env.archive.got.HandoffOnly)
	assert.Equal(t, 5, env.archive.got.Size)
	assert.Equal(t, 2025, env.archive.got.Since.Year())

	w = env.do(http.MethodGet, "/api/conversations/search?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
