// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/retry"
)

const connectTimeout = 10 * time.Second

// Client wraps the Zeebe gRPC client: the job workers poll through GetClient,
// the auto-reply service publishes handoff messages through PublishMessage.
type Client struct {
	client         zbc.Client
	requestTimeout time.Duration
	retry          retry.Policy
	logger         logger.Logger
}

// NewClient dials a plaintext gateway and checks the broker topology.
func NewClient(address string, requestTimeout time.Duration, log logger.Logger) (*Client, error) {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{
		client:         zeebeClient,
		requestTimeout: requestTimeout,
		retry: retry.Policy{
			MaxRetries:   3,
			InitialDelay: time.Second,
			ShouldRetry:  isTransient,
		},
		logger: log.WithFields(map[string]interface{}{"component": "zeebe"}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.HealthCheck(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", address, err)
	}
	return c, nil
}

// PublishMessage correlates a message keyed by correlationKey, e.g.
// "conversation-handoff" keyed by conversation id. Transient gateway errors
// are retried with backoff.
func (c *Client) PublishMessage(ctx context.Context, name, correlationKey string, variables interface{}) error {
	cmd, err := c.client.NewPublishMessageCommand().
		MessageName(name).
		CorrelationKey(correlationKey).
		VariablesFromObject(variables)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("message %s variables: %v", name, err))
	}

	err = retry.WithBackoff(ctx, c.retry, c.logger, "publish "+name, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		_, err := cmd.Send(reqCtx)
		return err
	})
	if err != nil {
		return mapZeebeError(err, "publish "+name)
	}

	c.logger.Debug("message published", map[string]interface{}{
		"message":        name,
		"correlationKey": correlationKey,
	})
	return nil
}

func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}

func isTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// mapZeebeError converts gateway status codes into application errors.
func mapZeebeError(err error, operation string) error {
	wrapped := fmt.Errorf("zeebe %s: %w", operation, err)

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("zeebe", wrapped)
	case codes.NotFound:
		return errors.NewResourceNotFoundError("zeebe", wrapped.Error())
	case codes.PermissionDenied, codes.Unauthenticated:
		return errors.NewAuthenticationError(wrapped.Error())
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errors.NewValidationError(wrapped.Error())
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}
