// internal/store/orders.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"shopdesk/internal/common/validation"
	"shopdesk/internal/models"
)

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id, customer_name, phone, address, items, total, status,
	COALESCE(tracking_code, ''), COALESCE(conversation_id, ''), synced_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (models.Order, error) {
	var o models.Order
	var items []byte
	var status string
	var synced sql.NullTime
	if err := row.Scan(&o.ID, &o.CustomerName, &o.Phone, &o.Address, &items, &o.Total, &status,
		&o.TrackingCode, &o.ConversationID, &synced, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return models.Order{}, fmt.Errorf("decode items: %w", err)
	}
	o.Status = models.OrderStatus(status)
	if synced.Valid {
		t := synced.Time
		o.SyncedAt = &t
	}
	return o, nil
}

// Create validates and stores a new pending order.
func (s *OrderStore) Create(ctx context.Context, o models.Order) (models.Order, error) {
	o.CustomerName = strings.TrimSpace(o.CustomerName)
	o.Address = strings.TrimSpace(o.Address)
	switch {
	case o.CustomerName == "":
		return models.Order{}, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	case !validation.ValidatePhone(o.Phone):
		return models.Order{}, fmt.Errorf("%w: invalid phone number %q", ErrInvalidInput, o.Phone)
	case o.Address == "":
		return models.Order{}, fmt.Errorf("%w: address is required", ErrInvalidInput)
	case len(o.Items) == 0:
		return models.Order{}, fmt.Errorf("%w: order has no items", ErrInvalidInput)
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return models.Order{}, fmt.Errorf("%w: bad line item %q", ErrInvalidInput, it.Name)
		}
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Total = o.ComputeTotal()
	o.Status = models.OrderStatusPending

	items, err := json.Marshal(o.Items)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, customer_name, phone, address, items, total, status, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		o.ID, o.CustomerName, o.Phone, o.Address, items, o.Total, string(o.Status), nullString(o.ConversationID),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return o, nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return o, nil
}

// List returns orders newest first, optionally filtered by status.
func (s *OrderStore) List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// ListUnsynced returns orders not yet written to the bookkeeping sheet.
func (s *OrderStore) ListUnsynced(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE synced_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
}

func (s *OrderStore) query(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return out, nil
}

// UpdateStatus moves an order to next when the transition is allowed.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, next models.OrderStatus) (models.Order, error) {
	return s.transition(ctx, id, next, "")
}

// SetTracking records the carrier tracking code and marks the order as
// shipping.
func (s *OrderStore) SetTracking(ctx context.Context, id, trackingCode string) (models.Order, error) {
	if trackingCode == "" {
		return models.Order{}, fmt.Errorf("%w: tracking code is required", ErrInvalidInput)
	}
	return s.transition(ctx, id, models.OrderStatusShipping, trackingCode)
}

func (s *OrderStore) transition(ctx context.Context, id string, next models.OrderStatus, trackingCode string) (models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: begin: %v", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if !models.OrderStatus(current).CanTransition(next) {
		return models.Order{}, fmt.Errorf("%w: %s -> %s", ErrConflict, current, next)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, tracking_code = COALESCE($3, tracking_code), updated_at = NOW()
		WHERE id = $1`, id, string(next), nullString(trackingCode)); err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Order{}, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}
	return s.Get(ctx, id)
}

// MarkSynced stamps orders as written to the bookkeeping sheet.
func (s *OrderStore) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE orders SET synced_at = $1 WHERE id = ANY($2)`, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
