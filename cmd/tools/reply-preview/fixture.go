// cmd/tools/reply-preview/fixture.go
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shopdesk/internal/assistant"
	"shopdesk/internal/models"
)

// fixture is a hand-written conversation snapshot:
//
//	message: "áo này còn size M không shop"
//	threshold: 0.7
//	history:
//	  - {role: customer, message: "shop ơi"}
//	trainingPairs:
//	  - {customerMessage: "còn hàng không", employeeResponse: "Dạ còn ạ"}
//	products:
//	  - {name: "Áo thun basic", price: 159000, stock: 12, sizes: [S, M, L]}
type fixture struct {
	Message       string                    `yaml:"message"`
	Threshold     float64                   `yaml:"threshold"`
	History       []models.ConversationTurn `yaml:"history"`
	TrainingPairs []models.TrainingPair     `yaml:"trainingPairs"`
	Products      []models.ProductSummary   `yaml:"products"`
}

func loadFixture(path string) (*fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return parseFixture(b)
}

func parseFixture(b []byte) (*fixture, error) {
	var fx fixture
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if strings.TrimSpace(fx.Message) == "" {
		return nil, errors.New("fixture: message is required")
	}
	for i, turn := range fx.History {
		if turn.Role != models.RoleCustomer && turn.Role != models.RoleEmployee {
			return nil, fmt.Errorf("fixture: history[%d] has unknown role %q", i, turn.Role)
		}
	}
	return &fx, nil
}

func (f *fixture) threshold() float64 {
	if f.Threshold > 0 {
		return f.Threshold
	}
	return models.DefaultConfidenceThreshold
}

func (f *fixture) promptInput() assistant.PromptInput {
	return assistant.PromptInput{
		CustomerMessage: f.Message,
		TrainingPairs:   f.TrainingPairs,
		Products:        f.Products,
		History:         f.History,
	}
}

func (f *fixture) request() assistant.Request {
	return assistant.Request{
		CustomerMessage: f.Message,
		TrainingPairs:   f.TrainingPairs,
		Products:        f.Products,
		History:         f.History,
	}
}
