// internal/models/product.go
package models

import "time"

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"` // VND
	Stock     int       `json:"stock"`
	Sizes     []string  `json:"sizes,omitempty"`
	Colors    []string  `json:"colors,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ProductSummary is the catalog projection the assistant grounds replies on.
type ProductSummary struct {
	Name   string   `json:"name" yaml:"name"`
	Price  int64    `json:"price" yaml:"price"`
	Stock  int      `json:"stock" yaml:"stock"`
	Sizes  []string `json:"sizes,omitempty" yaml:"sizes,omitempty"`
	Colors []string `json:"colors,omitempty" yaml:"colors,omitempty"`
}

func (p Product) Summary() ProductSummary {
	stock := p.Stock
	if stock < 0 {
		stock = 0
	}
	return ProductSummary{
		Name:   p.Name,
		Price:  p.Price,
		Stock:  stock,
		Sizes:  p.Sizes,
		Colors: p.Colors,
	}
}
