// internal/assistant/provider/openai.go
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"shopdesk/internal/assistant"
)

const (
	OpenAIName         = "openai"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI calls the chat completions API with a single credential.
type OpenAI struct {
	client openai.Client
	model  string
}

type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, assistant.NewConfigurationError("openai API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// retries and rotation are handled above the provider
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAI{client: openai.NewClient(reqOpts...), model: opts.Model}, nil
}

func (o *OpenAI) Name() string { return OpenAIName }

func (o *OpenAI) Generate(ctx context.Context, prompt string, opts assistant.GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.Format == assistant.FormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &assistant.GenerationFailure{Provider: OpenAIName, Err: errors.New("no choices returned")}
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		// 401/403 stay generation failures: rotation moves past the key and
		// the pipeline still answers with the fallback
		return &assistant.GenerationFailure{
			Provider:    OpenAIName,
			StatusCode:  apiErr.StatusCode,
			RateLimited: apiErr.StatusCode == 429,
			Err:         err,
		}
	}
	return &assistant.GenerationFailure{Provider: OpenAIName, Err: err}
}

func OpenAIFactory(model, baseURL string) assistant.Factory {
	return func(apiKey string) (assistant.Generator, error) {
		g, err := NewOpenAI(OpenAIOptions{APIKey: apiKey, Model: model, BaseURL: baseURL})
		if err != nil {
			return nil, fmt.Errorf("openai factory: %w", err)
		}
		return g, nil
	}
}
