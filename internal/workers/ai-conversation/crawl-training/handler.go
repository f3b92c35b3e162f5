// internal/workers/ai-conversation/crawl-training/handler.go
package crawltraining

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"shopdesk/internal/assistant"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/validation"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
)

const (
	TaskType = "crawl-training"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// Source is the page inbox, usually *messenger.Client.
type Source interface {
	ListConversations(ctx context.Context, platform string, limit int) ([]messenger.Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]messenger.Message, error)
	PageID() string
}

type Sink interface {
	Insert(ctx context.Context, pairs []models.TrainingPair) (int, error)
}

type Handler struct {
	config       *Config
	source       Source
	sink         Sink
	classifier   *aiClassifier
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the crawler. gen is only used when config.AIClassify is
// set and may be nil otherwise.
func NewHandler(config *Config, source Source, sink Sink, gen assistant.Generator, model string, log logger.Logger) (*Handler, error) {
	if source == nil || sink == nil {
		return nil, errors.New("crawl-training: source and sink are required")
	}
	if config.AIClassify && gen == nil {
		return nil, errors.New("crawl-training: ai classification needs a generator")
	}

	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	h := &Handler{
		config:       config,
		source:       source,
		sink:         sink,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
	if config.AIClassify {
		h.classifier = &aiClassifier{gen: gen, model: model}
	}
	return h, nil
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

	if result := schema.ValidateBytes([]byte(job.Variables)); !result.Valid {
		h.fail(ctx, client, job, apperrors.NewValidationError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewValidationError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	convLimit := input.ConversationLimit
	if convLimit <= 0 {
		convLimit = h.config.ConversationLimit
	}
	msgLimit := input.MessageLimit
	if msgLimit <= 0 {
		msgLimit = h.config.MessageLimit
	}
	batchSize := h.config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	convs, err := h.source.ListConversations(ctx, input.Platform, convLimit)
	if err != nil {
		return nil, err
	}

	out := &Output{Conversations: len(convs), Categories: map[string]int{}}
	pageID := h.source.PageID()

	var batch []models.TrainingPair
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := h.sink.Insert(ctx, batch)
		if err != nil {
			return apperrors.NewDatabaseInsertFailedError(err)
		}
		out.Inserted += n
		out.Skipped += len(batch) - n
		batch = nil
		return nil
	}

	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTimeoutError("messenger", err)
		}

		msgs, err := h.source.Messages(ctx, conv.ID, msgLimit)
		if err != nil {
			out.Failed++
			h.logger.Warn("conversation skipped", map[string]interface{}{
				"conversationId": conv.ID,
				"error":          err,
			})
			continue
		}

		for _, p := range Pair(conv.ID, pageID, msgs) {
			if p.Category == models.CategoryOther && h.classifier != nil {
				p.Category = h.classify(ctx, p.CustomerMessage)
			}
			out.Pairs++
			out.Categories[string(p.Category)]++
			batch = append(batch, p)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	h.logger.Info("training crawl finished", map[string]interface{}{
		"conversations": out.Conversations,
		"pairs":         out.Pairs,
		"inserted":      out.Inserted,
		"failed":        out.Failed,
	})
	return out, nil
}

func (h *Handler) classify(ctx context.Context, text string) models.Category {
	cat, err := h.classifier.classify(ctx, text)
	if err != nil {
		h.logger.Debug("ai classification failed", map[string]interface{}{"error": err})
		return models.CategoryOther
	}
	return cat
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
