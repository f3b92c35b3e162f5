// internal/assistant/provider/gemini.go
package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"shopdesk/internal/assistant"
)

const (
	GeminiName         = "gemini"
	DefaultGeminiModel = "gemini-2.5-flash"
)

// Gemini calls the Gemini API with a single credential.
type Gemini struct {
	client *genai.Client
	model  string
}

type GeminiOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, assistant.NewConfigurationError("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, assistant.NewConfigurationError("create gemini client: %v", err)
	}

	return &Gemini{client: client, model: opts.Model}, nil
}

func (g *Gemini) Name() string { return GeminiName }

func (g *Gemini) Generate(ctx context.Context, prompt string, opts assistant.GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = g.model
	}

	gc := &genai.GenerateContentConfig{}
	if opts.Format == assistant.FormatJSON {
		gc.ResponseMIMEType = "application/json"
	}
	if opts.ThinkingBudget != nil {
		budget := *opts.ThinkingBudget
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), gc)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &assistant.GenerationFailure{Provider: GeminiName, Err: errors.New("no candidates returned")}
	}

	return resp.Text(), nil
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &assistant.GenerationFailure{Provider: GeminiName, Err: err}
	}

	failure := &assistant.GenerationFailure{Provider: GeminiName, Err: err}
	if apiErr, ok := asGeminiAPIError(err); ok {
		failure.StatusCode = apiErr.Code
		failure.RateLimited = apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	return failure
}

// asGeminiAPIError accepts both forms; the SDK returns the value type.
func asGeminiAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var ptrErr *genai.APIError
	if errors.As(err, &ptrErr) && ptrErr != nil {
		return *ptrErr, true
	}
	return genai.APIError{}, false
}

// GeminiFactory returns a rotation factory bound to one model.
func GeminiFactory(model, baseURL string) assistant.Factory {
	return func(apiKey string) (assistant.Generator, error) {
		g, err := NewGemini(context.Background(), GeminiOptions{APIKey: apiKey, Model: model, BaseURL: baseURL})
		if err != nil {
			return nil, fmt.Errorf("gemini factory: %w", err)
		}
		return g, nil
	}
}
