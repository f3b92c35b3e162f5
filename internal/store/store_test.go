package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopdesk/internal/common/database"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func newMiniRedis(t *testing.T) (*database.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &database.RedisClient{Client: client}, mr
}

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// ==========================
// Settings
// ==========================

func TestSettingsStore_GetCachesRow(t *testing.T) {
	db, mock := newMockDB(t)
	cache, mr := newMiniRedis(t)
	s := NewSettingsStore(db, cache, logger.NewTestLogger(t))

	mock.ExpectQuery(`SELECT auto_reply_enabled, confidence_threshold, updated_at FROM shop_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"auto_reply_enabled", "confidence_threshold", "updated_at"}).
			AddRow(true, 0.75, now))

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, got.AutoReplyEnabled)
	assert.Equal(t, 0.75, got.ConfidenceThreshold)
	assert.True(t, mr.Exists(settingsCacheKey))

	// second read is served from the cache; no further query is expected
	again, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got.ConfidenceThreshold, again.ConfidenceThreshold)
	assert.Equal(t, got.AutoReplyEnabled, again.AutoReplyEnabled)
}

func TestSettingsStore_MissingRowUsesDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSettingsStore(db, nil, nil)

	mock.ExpectQuery(`FROM shop_settings`).WillReturnError(sql.ErrNoRows)

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)
}

func TestSettingsStore_CacheErrorFallsThrough(t *testing.T) {
	db, mock := newMockDB(t)
	client, redisMock := redismock.NewClientMock()
	s := NewSettingsStore(db, &database.RedisClient{Client: client}, logger.NewTestLogger(t))

	redisMock.ExpectGet(settingsCacheKey).SetErr(errors.New("connection refused"))
	mock.ExpectQuery(`FROM shop_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"auto_reply_enabled", "confidence_threshold", "updated_at"}).
			AddRow(false, 0.7, now))
	redisMock.Regexp().ExpectSet(settingsCacheKey, `.*`, settingsCacheTTL).SetErr(errors.New("connection refused"))

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, got.AutoReplyEnabled)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestSettingsStore_Update(t *testing.T) {
	db, mock := newMockDB(t)
	cache, mr := newMiniRedis(t)
	s := NewSettingsStore(db, cache, nil)

	mock.ExpectQuery(`INSERT INTO shop_settings`).
		WithArgs(true, 0.9).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	got, err := s.Update(context.Background(), models.Settings{AutoReplyEnabled: true, ConfidenceThreshold: 0.9})
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)

	raw, err := mr.Get(settingsCacheKey)
	require.NoError(t, err)
	var cached models.Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, 0.9, cached.ConfidenceThreshold)

	_, err = s.Update(context.Background(), models.Settings{ConfidenceThreshold: 1.5})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// ==========================
// Training pairs
// ==========================

func TestTrainingStore_InsertDeduplicates(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewTrainingStore(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO training_pairs .* ON CONFLICT \(conversation_id, message_id\) DO NOTHING`)
	prep.ExpectExec().WithArgs("c1", "m1", "còn size M không", "dạ còn ạ", sqlmock.AnyArg(), "product").
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("c1", "m2", "ship bao lâu", "2-3 ngày ạ", sqlmock.AnyArg(), "shipping").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.Insert(context.Background(), []models.TrainingPair{
		{ConversationID: "c1", MessageID: "m1", CustomerMessage: "còn size M không", EmployeeResponse: "dạ còn ạ", Category: models.CategoryProduct},
		{ConversationID: "c1", MessageID: "m2", CustomerMessage: "ship bao lâu", EmployeeResponse: "2-3 ngày ạ", Category: "SHIPPING"},
		{ConversationID: "c1", MessageID: "m3", CustomerMessage: "  ", EmployeeResponse: "skipped"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrainingStore_InsertRequiresKey(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewTrainingStore(db)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO training_pairs`)
	mock.ExpectRollback()

	_, err := s.Insert(context.Background(), []models.TrainingPair{{CustomerMessage: "a", EmployeeResponse: "b"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTrainingStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewTrainingStore(db)

	mock.ExpectQuery(`FROM training_pairs WHERE category = \$1 ORDER BY id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("order", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "message_id", "customer_message", "employee_response", "context", "category", "created_at"}).
			AddRow(2, "c1", "m2", "đơn của mình tới đâu rồi", "dạ em kiểm tra ạ", "", "order", now))

	pairs, err := s.List(context.Background(), TrainingFilter{Category: models.CategoryOrder, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, models.CategoryOrder, pairs[0].Category)
	assert.Equal(t, int64(2), pairs[0].ID)
}

func TestTrainingStore_DeleteNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewTrainingStore(db)

	mock.ExpectExec(`DELETE FROM training_pairs WHERE id = \$1`).WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Delete(context.Background(), 9), ErrNotFound)
}

// ==========================
// Products
// ==========================

func TestProductStore_Summaries(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewProductStore(db)

	mock.ExpectQuery(`FROM products WHERE active = TRUE`).WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock", "sizes", "colors", "active", "created_at"}).
			AddRow("p1", "Áo thun basic", int64(150000), 12, "{S,M,L}", "{trắng,đen}", true, now).
			AddRow("p2", "Quần jean", int64(350000), 0, "{}", "{}", true, now))

	got, err := s.Summaries(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"S", "M", "L"}, got[0].Sizes)
	assert.Equal(t, []string{"trắng", "đen"}, got[0].Colors)
	assert.Equal(t, 0, got[1].Stock)
}

func TestProductStore_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewProductStore(db)

	mock.ExpectQuery(`INSERT INTO products`).
		WithArgs(sqlmock.AnyArg(), "Váy hoa", int64(250000), 3, sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	p, err := s.Upsert(context.Background(), models.Product{Name: " Váy hoa ", Price: 250000, Stock: 3, Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Váy hoa", p.Name)

	_, err = s.Upsert(context.Background(), models.Product{Name: "x", Price: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProductStore_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewProductStore(db)

	mock.ExpectQuery(`FROM products WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ==========================
// Orders
// ==========================

var orderCols = []string{"id", "customer_name", "phone", "address", "items", "total", "status",
	"tracking_code", "conversation_id", "synced_at", "created_at", "updated_at"}

func TestOrderStore_Create(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewOrderStore(db)

	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(sqlmock.AnyArg(), "Lan", "0912345678", "12 Lê Lợi, Q1", sqlmock.AnyArg(), int64(450000), "pending", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	o, err := s.Create(context.Background(), models.Order{
		CustomerName: "Lan",
		Phone:        "0912345678",
		Address:      "12 Lê Lợi, Q1",
		Items: []models.OrderItem{
			{ProductID: "p1", Name: "Áo thun", Quantity: 3, UnitPrice: 150000},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, int64(450000), o.Total)
	assert.NotEmpty(t, o.ID)
}

func TestOrderStore_CreateValidation(t *testing.T) {
	db, _ := newMockDB(t)
	s := NewOrderStore(db)

	tests := []struct {
		name  string
		order models.Order
	}{
		{name: "no name", order: models.Order{Phone: "0912345678", Address: "a", Items: []models.OrderItem{{Quantity: 1}}}},
		{name: "bad phone", order: models.Order{CustomerName: "a", Phone: "123", Address: "a", Items: []models.OrderItem{{Quantity: 1}}}},
		{name: "no items", order: models.Order{CustomerName: "a", Phone: "0912345678", Address: "a"}},
		{name: "zero quantity", order: models.Order{CustomerName: "a", Phone: "0912345678", Address: "a", Items: []models.OrderItem{{Quantity: 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.order)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestOrderStore_SetTracking(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewOrderStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("confirmed"))
	mock.ExpectExec(`UPDATE orders SET status = \$2`).WithArgs("o1", "shipping", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow("o1", "Lan", "0912345678", "addr",
			`[{"productId":"p1","name":"Áo","quantity":1,"unitPrice":150000}]`, int64(150000),
			"shipping", "GHN123", "", nil, now, now))

	o, err := s.SetTracking(context.Background(), "o1", "GHN123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipping, o.Status)
	assert.Equal(t, "GHN123", o.TrackingCode)
	require.Len(t, o.Items, 1)
	assert.Nil(t, o.SyncedAt)
}

func TestOrderStore_RejectsInvalidTransition(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewOrderStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM orders`).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))
	mock.ExpectRollback()

	_, err := s.UpdateStatus(context.Background(), "o1", models.OrderStatusPending)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestOrderStore_MarkSynced(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewOrderStore(db)

	mock.ExpectExec(`UPDATE orders SET synced_at = \$1 WHERE id = ANY\(\$2\)`).
		WithArgs(now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.MarkSynced(context.Background(), []string{"o1", "o2"}, now))
	require.NoError(t, s.MarkSynced(context.Background(), nil, now))
}

// ==========================
// Conversations
// ==========================

func TestConversationStore_RecentIsChronological(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewConversationStore(db)

	mock.ExpectQuery(`FROM conversation_turns WHERE conversation_id = \$1 ORDER BY id DESC LIMIT \$2`).
		WithArgs("c1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"role", "message"}).
			AddRow("customer", "third").
			AddRow("employee", "second").
			AddRow("customer", "first"))

	turns, err := s.Recent(context.Background(), "c1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "first", turns[0].Message)
	assert.Equal(t, "third", turns[2].Message)
	assert.Equal(t, models.RoleEmployee, turns[1].Role)
}

func TestConversationStore_Append(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewConversationStore(db)

	mock.ExpectExec(`INSERT INTO conversation_turns`).WithArgs("c1", "customer", "alo").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Append(context.Background(), "c1", models.ConversationTurn{Role: models.RoleCustomer, Message: "alo"}))
	assert.ErrorIs(t, s.Append(context.Background(), "", models.ConversationTurn{}), ErrInvalidInput)
}
