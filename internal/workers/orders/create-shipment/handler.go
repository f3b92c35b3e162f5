// internal/workers/orders/create-shipment/handler.go
package createshipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"shopdesk/internal/carrier"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/common/validation"
	"shopdesk/internal/models"
	"shopdesk/internal/store"
)

const (
	TaskType = "create-shipment"
)

var schema = validation.MustCompile(TaskType, inputSchema)

type Orders interface {
	Get(ctx context.Context, id string) (models.Order, error)
	SetTracking(ctx context.Context, id, trackingCode string) (models.Order, error)
}

// Shipper is satisfied by *carrier.Client.
type Shipper interface {
	CreateShipment(ctx context.Context, order models.Order, note string) (carrier.Shipment, error)
}

type Handler struct {
	config       *Config
	orders       Orders
	shipper      Shipper
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, orders Orders, shipper Shipper, log logger.Logger) (*Handler, error) {
	if orders == nil || shipper == nil {
		return nil, errors.New("create-shipment: orders and shipper are required")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		orders:       orders,
		shipper:      shipper,
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
	order, err := h.orders.Get(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewOrderNotFoundError(input.OrderID)
		}
		return nil, apperrors.NewQueryExecutionFailedError("orders", err)
	}

	// a retried job finds the parcel already booked
	if order.TrackingCode != "" && order.Status != models.OrderStatusConfirmed {
		return &Output{
			OrderID:        order.ID,
			TrackingCode:   order.TrackingCode,
			Status:         string(order.Status),
			AlreadyShipped: true,
		}, nil
	}
	if order.Status != models.OrderStatusConfirmed {
		return nil, apperrors.NewValidationError(fmt.Sprintf("order %s is %s, only confirmed orders can ship", order.ID, order.Status))
	}

	shipment, err := h.shipper.CreateShipment(ctx, order, input.Note)
	if err != nil {
		return nil, err
	}

	updated, err := h.orders.SetTracking(ctx, order.ID, shipment.TrackingCode)
	if err != nil {
		h.logger.Error("shipment booked but order not updated", map[string]interface{}{
			"orderId":      order.ID,
			"trackingCode": shipment.TrackingCode,
			"error":        err,
		})
		stdErr := apperrors.NewDatabaseInsertFailedError(err).WithMetadata("trackingCode", shipment.TrackingCode)
		stdErr.Retryable = false
		return nil, stdErr
	}

	out := &Output{
		OrderID:      updated.ID,
		TrackingCode: shipment.TrackingCode,
		Fee:          shipment.Fee,
		Status:       string(updated.Status),
	}
	if !shipment.ExpectedDelivery.IsZero() {
		out.ExpectedDelivery = shipment.ExpectedDelivery.Format(time.RFC3339)
	}

	h.logger.Info("shipment created", map[string]interface{}{
		"orderId":      out.OrderID,
		"trackingCode": out.TrackingCode,
		"fee":          out.Fee,
	})
	return out, nil
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
