// internal/models/training.go
package models

import (
	"strings"
	"time"
)

// Category classifies what a training pair is about.
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategoryProduct  Category = "product"
	CategoryOrder    Category = "order"
	CategoryShipping Category = "shipping"
	CategoryPayment  Category = "payment"
	CategoryOther    Category = "other"
)

var categories = map[Category]bool{
	CategoryGreeting: true,
	CategoryProduct:  true,
	CategoryOrder:    true,
	CategoryShipping: true,
	CategoryPayment:  true,
	CategoryOther:    true,
}

// Valid reports whether c is one of the known categories. Empty is allowed.
func (c Category) Valid() bool {
	return c == "" || categories[c]
}

// ParseCategory normalises free-form input, mapping unknown values to other.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return ""
	}
	if categories[c] {
		return c
	}
	return CategoryOther
}

// TrainingPair is one example of how the shop replies to a customer. Pairs
// are immutable once stored; (ConversationID, MessageID) is the dedup key.
type TrainingPair struct {
	ID               int64     `json:"id,omitempty" yaml:"-"`
	ConversationID   string    `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	MessageID        string    `json:"messageId,omitempty" yaml:"messageId,omitempty"`
	CustomerMessage  string    `json:"customerMessage" yaml:"customerMessage"`
	EmployeeResponse string    `json:"employeeResponse" yaml:"employeeResponse"`
	Context          string    `json:"context,omitempty" yaml:"context,omitempty"`
	Category         Category  `json:"category,omitempty" yaml:"category,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty" yaml:"-"`
}
