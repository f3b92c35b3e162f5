// internal/store/products.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"shopdesk/internal/models"
)

type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

const productColumns = `id, name, price, stock, sizes, colors, active, created_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (models.Product, error) {
	var p models.Product
	var sizes, colors pq.StringArray
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &sizes, &colors, &p.Active, &p.CreatedAt); err != nil {
		return models.Product{}, err
	}
	p.Sizes = []string(sizes)
	p.Colors = []string(colors)
	return p, nil
}

// ListActive returns active products, in-stock first then by name.
func (s *ProductStore) ListActive(ctx context.Context, limit int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = TRUE
		ORDER BY (stock > 0) DESC, name ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return out, nil
}

// Summaries projects the active catalog for prompt grounding.
func (s *ProductStore) Summaries(ctx context.Context, limit int) ([]models.ProductSummary, error) {
	products, err := s.ListActive(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ProductSummary, 0, len(products))
	for _, p := range products {
		out = append(out, p.Summary())
	}
	return out, nil
}

func (s *ProductStore) Get(ctx context.Context, id string) (models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return p, nil
}

// Upsert inserts or replaces a product. An empty ID gets a new one.
func (s *ProductStore) Upsert(ctx context.Context, p models.Product) (models.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return models.Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if p.Price < 0 || p.Stock < 0 {
		return models.Product{}, fmt.Errorf("%w: price and stock must not be negative", ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, stock, sizes, colors, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
		    sizes = EXCLUDED.sizes, colors = EXCLUDED.colors, active = EXCLUDED.active
		RETURNING created_at`,
		p.ID, p.Name, p.Price, p.Stock, pq.Array(p.Sizes), pq.Array(p.Colors), p.Active,
	).Scan(&p.CreatedAt)
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return p, nil
}
