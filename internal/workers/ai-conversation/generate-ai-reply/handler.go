// internal/workers/ai-conversation/generate-ai-reply/handler.go
package generateaireply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"golang.org/x/sync/errgroup"

	"shopdesk/internal/assistant"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/validation"
	"shopdesk/internal/models"
	"shopdesk/internal/store"
)

const (
	TaskType = "generate-ai-reply"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// Replier only returns configuration errors; every other failure comes back
// as the Fallback response.
type Replier interface {
	GenerateReply(ctx context.Context, req assistant.Request) (assistant.Response, error)
	Fallback() assistant.Response
}

type TrainingSource interface {
	List(ctx context.Context, f store.TrainingFilter) ([]models.TrainingPair, error)
}

type ProductSource interface {
	Summaries(ctx context.Context, limit int) ([]models.ProductSummary, error)
}

type HistorySource interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]models.ConversationTurn, error)
}

// Dependencies are the grounding sources. Only Replier is required; a nil
// source leaves its prompt section empty.
type Dependencies struct {
	Replier  Replier
	Training TrainingSource
	Products ProductSource
	History  HistorySource
}

type Handler struct {
	config       *Config
	deps         Dependencies
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) (*Handler, error) {
	if deps.Replier == nil {
		return nil, errors.New("generate-ai-reply: replier is required")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		deps:         deps,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func parseInput(job entities.Job) (*Input, error) {
	if result := schema.ValidateBytes([]byte(job.Variables)); !result.Valid {
		return nil, apperrors.NewValidationError(strings.Join(result.GetErrorMessages(), "; "))
	}
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.CustomerMessage) == "" {
		return nil, apperrors.NewValidationError("customerMessage is required")
	}

	req := h.ground(ctx, input)

	resp, err := h.deps.Replier.GenerateReply(ctx, req)
	if err != nil {
		if assistant.IsConfigurationError(err) {
			return nil, apperrors.NewConfigurationError(err.Error())
		}
		return nil, apperrors.NewGenerationFailureError(err)
	}

	fallback := resp == h.deps.Replier.Fallback()
	h.logger.Info("reply generated", map[string]interface{}{
		"conversationId": input.ConversationID,
		"confidence":     resp.Confidence,
		"shouldHandoff":  resp.ShouldHandoff,
		"fallback":       fallback,
	})

	return &Output{
		Reply:         resp.Message,
		Confidence:    resp.Confidence,
		ShouldHandoff: resp.ShouldHandoff,
		Fallback:      fallback,
	}, nil
}

// ground loads the prompt context concurrently. Failures only thin out the
// prompt.
func (h *Handler) ground(ctx context.Context, input *Input) assistant.Request {
	req := assistant.Request{
		CustomerMessage: input.CustomerMessage,
		History:         input.History,
	}

	g, gctx := errgroup.WithContext(ctx)
	if h.deps.Training != nil {
		g.Go(func() error {
			pairs, err := h.deps.Training.List(gctx, store.TrainingFilter{Limit: h.config.TrainingPairs})
			if err != nil {
				h.logger.Warn("training pairs unavailable", map[string]interface{}{"error": err})
				return nil
			}
			req.TrainingPairs = pairs
			return nil
		})
	}
	if h.deps.Products != nil {
		g.Go(func() error {
			products, err := h.deps.Products.Summaries(gctx, h.config.Products)
			if err != nil {
				h.logger.Warn("products unavailable", map[string]interface{}{"error": err})
				return nil
			}
			req.Products = products
			return nil
		})
	}
	if h.deps.History != nil && len(input.History) == 0 && input.ConversationID != "" {
		g.Go(func() error {
			turns, err := h.deps.History.Recent(gctx, input.ConversationID, h.config.HistoryTurns)
			if err != nil {
				h.logger.Warn("history unavailable", map[string]interface{}{"error": err})
				return nil
			}
			req.History = turns
			return nil
		})
	}
	_ = g.Wait()

	return req
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// Execute method for direct usage
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
