// internal/assistant/pipeline.go
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shopdesk/internal/common/config"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/observability"
	"shopdesk/internal/models"
)

const (
	DefaultFallbackMessage = "Dạ shop đã nhận được tin nhắn của anh/chị, nhân viên sẽ phản hồi ngay ạ!"
	DefaultTimeout         = 30 * time.Second
)

// Request carries everything one reply is grounded on.
type Request struct {
	CustomerMessage string
	TrainingPairs   []models.TrainingPair
	Products        []models.ProductSummary
	History         []models.ConversationTurn
}

type PipelineOptions struct {
	Builder   *PromptBuilder
	Generator Generator
	Policy    AnalyzerPolicy
	Generate  GenerateOptions
	Timeout   time.Duration
	Fallback  string
	Logger    logger.Logger
}

// Pipeline turns a customer message into a proposed reply. It keeps no state
// between calls and never decides whether the reply is sent.
type Pipeline struct {
	builder   *PromptBuilder
	generator Generator
	policy    AnalyzerPolicy
	genOpts   GenerateOptions
	timeout   time.Duration
	fallback  string
	logger    logger.Logger
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Generator == nil {
		return nil, NewConfigurationError("generator is required")
	}
	if opts.Builder == nil {
		opts.Builder = NewPromptBuilder(DefaultPromptLimits(), ShopInfo{}, nil)
	}
	if opts.Policy.Uncertainty == nil && opts.Policy.BaseConfidence == 0 {
		opts.Policy = DefaultAnalyzerPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallbackMessage
	}
	if opts.Generate.Format == "" {
		opts.Generate.Format = FormatText
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}

	return &Pipeline{
		builder:   opts.Builder,
		generator: opts.Generator,
		policy:    opts.Policy,
		genOpts:   opts.Generate,
		timeout:   opts.Timeout,
		fallback:  opts.Fallback,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "ai-pipeline"}),
	}, nil
}

// NewPipelineFromConfig wires the prompt builder, analyzer policy and
// generation options from the ai config section.
func NewPipelineFromConfig(ai config.AIConfig, gen Generator, log logger.Logger) (*Pipeline, error) {
	policy, err := NewAnalyzerPolicy(ai.Analyzer)
	if err != nil {
		return nil, err
	}

	builder := NewPromptBuilder(
		PromptLimits{
			TrainingPairs: ai.Prompt.TrainingPairs,
			Products:      ai.Prompt.Products,
			HistoryTurns:  ai.Prompt.HistoryTurns,
		},
		ShopInfo{
			Name:    ai.Shop.Name,
			Hotline: ai.Shop.Hotline,
			Address: ai.Shop.Address,
			Hours:   ai.Shop.Hours,
			Policy:  ai.Shop.Policy,
		},
		ai.Prompt.Glossary,
	)

	genOpts := GenerateOptions{Model: ai.Model, Format: FormatText}
	if ai.ThinkingBudget != 0 {
		budget := int32(ai.ThinkingBudget)
		if ai.ThinkingBudget < 0 {
			budget = 0
		}
		genOpts.ThinkingBudget = &budget
	}

	return NewPipeline(PipelineOptions{
		Builder:   builder,
		Generator: gen,
		Policy:    policy,
		Generate:  genOpts,
		Timeout:   config.GetDuration(ai.Timeout),
		Fallback:  ai.FallbackMessage,
		Logger:    log,
	})
}

// Fallback is the response used whenever generation fails.
func (p *Pipeline) Fallback() Response {
	return Response{Message: p.fallback, Confidence: 0, ShouldHandoff: true}
}

func (p *Pipeline) Builder() *PromptBuilder { return p.builder }

func (p *Pipeline) Policy() AnalyzerPolicy { return p.policy }

// GenerateReply builds the prompt, calls the generator once (bounded by the
// configured timeout) and analyses the output. Generation failures of any
// kind yield the fallback response and a nil error; only configuration
// errors are returned.
func (p *Pipeline) GenerateReply(ctx context.Context, req Request) (Response, error) {
	ctx, span := observability.StartSpan(ctx, "assistant.GenerateReply",
		attribute.String("ai.provider", p.generator.Name()),
		attribute.Int("ai.training_pairs", len(req.TrainingPairs)),
		attribute.Int("ai.products", len(req.Products)),
		attribute.Int("ai.history_turns", len(req.History)),
	)
	defer span.End()

	prompt := p.builder.Build(PromptInput{
		CustomerMessage: req.CustomerMessage,
		TrainingPairs:   req.TrainingPairs,
		Products:        req.Products,
		History:         req.History,
	})

	raw, err := p.generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			metrics.AIReplies.WithLabelValues("config_error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "configuration")
			p.logger.Error("generation not configured", map[string]interface{}{"error": err})
			return Response{}, err
		}

		metrics.AIReplies.WithLabelValues("fallback").Inc()
		metrics.AIHandoffs.WithLabelValues("fallback").Inc()
		span.RecordError(err)
		p.logger.Warn("generation failed, using fallback reply", map[string]interface{}{
			"error":       err,
			"rateLimited": IsRateLimited(err),
		})
		return p.Fallback(), nil
	}

	resp := p.policy.Analyze(raw)

	metrics.AIReplies.WithLabelValues("generated").Inc()
	metrics.AIReplyConfidence.Observe(resp.Confidence)
	if resp.ShouldHandoff {
		metrics.AIHandoffs.WithLabelValues("sentinel").Inc()
	}
	span.SetAttributes(
		attribute.Float64("ai.confidence", resp.Confidence),
		attribute.Bool("ai.handoff", resp.ShouldHandoff),
	)

	p.logger.Debug("reply generated", map[string]interface{}{
		"confidence":    resp.Confidence,
		"shouldHandoff": resp.ShouldHandoff,
		"length":        len(resp.Message),
	})

	return resp, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := p.generator.Generate(ctx, prompt, p.genOpts)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		metrics.AIGenerationDuration.WithLabelValues(p.generator.Name()).Observe(time.Since(start).Seconds())
		return r.text, r.err
	case <-ctx.Done():
		return "", &GenerationFailure{
			Provider: p.generator.Name(),
			Err:      fmt.Errorf("generation timed out after %s: %w", p.timeout, ctx.Err()),
		}
	}
}
