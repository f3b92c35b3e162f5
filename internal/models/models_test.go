package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"greeting", CategoryGreeting},
		{" Shipping ", CategoryShipping},
		{"", ""},
		{"complaint", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCategory(tt.in), tt.in)
	}
	assert.True(t, Category("").Valid())
	assert.False(t, Category("complaint").Valid())
}

func TestProductSummary_ClampsStock(t *testing.T) {
	p := Product{Name: "Áo thun", Price: 150000, Stock: -2, Sizes: []string{"M"}}
	s := p.Summary()
	assert.Equal(t, 0, s.Stock)
	assert.Equal(t, int64(150000), s.Price)
	assert.Equal(t, []string{"M"}, s.Sizes)
}

func TestOrderStatus_CanTransition(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransition(OrderStatusConfirmed))
	assert.True(t, OrderStatusConfirmed.CanTransition(OrderStatusShipping))
	assert.False(t, OrderStatusDelivered.CanTransition(OrderStatusPending))
	assert.False(t, OrderStatusPending.CanTransition(OrderStatusDelivered))
}

func TestOrder_ComputeTotal(t *testing.T) {
	o := Order{Items: []OrderItem{
		{Quantity: 2, UnitPrice: 150000},
		{Quantity: 1, UnitPrice: 99000},
	}}
	assert.Equal(t, int64(399000), o.ComputeTotal())
}
