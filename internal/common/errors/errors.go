// Package errors provides standardized error handling for the API and for
// BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeGenerationFailure ErrorCode = "GENERATION_FAILURE"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeGenerationTimeout ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeMalformedOutput   ErrorCode = "MALFORMED_OUTPUT"

	ErrCodeMessengerSendFailed ErrorCode = "MESSENGER_SEND_FAILED"
	ErrCodeWebhookInvalid      ErrorCode = "WEBHOOK_INVALID"

	ErrCodeCarrierAuthFailed ErrorCode = "CARRIER_AUTH_FAILED"
	ErrCodeCarrierAPIError   ErrorCode = "CARRIER_API_ERROR"

	ErrCodeSheetsSyncFailed ErrorCode = "SHEETS_SYNC_FAILED"

	ErrCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeProductNotFound ErrorCode = "PRODUCT_NOT_FOUND"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"

	ErrCodeExternalService  ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	se := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		se.Details = cause.Error()
	}
	return se
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewConfigurationError reports a missing or invalid setting. Never retried.
func NewConfigurationError(details string) *StandardError {
	se := newError(ErrCodeConfiguration, "Service is not configured", nil, false)
	se.Details = details
	return se
}

func NewGenerationFailureError(err error) *StandardError {
	return newError(ErrCodeGenerationFailure, "Text generation failed", err, true)
}

func NewRateLimitedError(provider string, err error) *StandardError {
	return newError(ErrCodeRateLimited, fmt.Sprintf("Provider '%s' rate limited", provider), err, true)
}

func NewGenerationTimeoutError(err error) *StandardError {
	return newError(ErrCodeGenerationTimeout, "Text generation timeout", err, true)
}

func NewMalformedOutputError(err error) *StandardError {
	return newError(ErrCodeMalformedOutput, "Generated output could not be parsed", err, false)
}

func NewMessengerSendFailedError(recipientID string, err error) *StandardError {
	se := newError(ErrCodeMessengerSendFailed, "Messenger send failed", err, true)
	return se.WithMetadata("recipientId", recipientID)
}

func NewWebhookInvalidError(details string) *StandardError {
	se := newError(ErrCodeWebhookInvalid, "Webhook payload rejected", nil, false)
	se.Details = details
	return se
}

func NewCarrierAuthFailedError(err error) *StandardError {
	return newError(ErrCodeCarrierAuthFailed, "Carrier authentication failed", err, false)
}

// NewCarrierAPIError is retryable for 5xx responses only.
func NewCarrierAPIError(statusCode int, err error) *StandardError {
	se := newError(ErrCodeCarrierAPIError, "Carrier API error", err, statusCode >= 500 || statusCode == 0)
	return se.WithMetadata("statusCode", statusCode)
}

func NewSheetsSyncFailedError(err error) *StandardError {
	return newError(ErrCodeSheetsSyncFailed, "Spreadsheet sync failed", err, true)
}

func NewOrderNotFoundError(orderID string) *StandardError {
	se := newError(ErrCodeOrderNotFound, "Order not found", nil, false)
	se.Details = fmt.Sprintf("orderId: %s", orderID)
	return se
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	se := newError(ErrCodeQueryExecutionFailed, "Database query execution error", err, true)
	se.Details = fmt.Sprintf("queryType: %s, error: %v", queryType, err)
	return se
}

func NewDatabaseInsertFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseInsertFailed, "Database insert operation failed", err, true)
}

func NewSearchQueryFailedError(index string, err error) *StandardError {
	se := newError(ErrCodeSearchQueryFailed, "Elasticsearch query error", err, true)
	se.Details = fmt.Sprintf("index: %s, error: %v", index, err)
	return se
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	se := newError(ErrCodeNotificationSendFailed, "Notification delivery failed", err, true)
	se.Details = fmt.Sprintf("type: %s, error: %v", channel, err)
	return se
}

func NewValidationError(details string) *StandardError {
	se := newError(ErrCodeValidationFailed, "Input validation failed", nil, false)
	se.Details = details
	return se
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	se := newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err, true)
	return se
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err, true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	se := newError(ErrCodeResourceNotFound, fmt.Sprintf("Resource not found in %s", service), nil, false)
	se.Details = details
	return se
}

func NewAuthenticationError(details string) *StandardError {
	se := newError(ErrCodeAuthentication, "Authentication failed", nil, false)
	se.Details = details
	return se
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for a job failing with code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeMessengerSendFailed,
		ErrCodeSheetsSyncFailed,
		ErrCodeCarrierAPIError,
		ErrCodeExternalService,
		ErrCodeGenerationFailure:
		return 3

	case ErrCodeRateLimited,
		ErrCodeTimeout,
		ErrCodeGenerationTimeout:
		return 2

	default:
		return 0 // business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
// BPMN codes are identical to the internal codes.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CONFIGURATION"):
		return "CONFIGURATION"
	case strings.Contains(codeStr, "GENERATION") || strings.Contains(codeStr, "RATE_LIMITED") || strings.Contains(codeStr, "MALFORMED"):
		return "AI"
	case strings.Contains(codeStr, "MESSENGER") || strings.Contains(codeStr, "WEBHOOK"):
		return "MESSAGING"
	case strings.Contains(codeStr, "CARRIER"):
		return "SHIPPING"
	case strings.Contains(codeStr, "SHEETS"):
		return "BOOKKEEPING"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") && !strings.Contains(codeStr, "SEARCH"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "NOT_FOUND"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps an error code onto the status the REST API responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeWebhookInvalid, ErrCodeMalformedOutput:
		return 400
	case ErrCodeAuthentication:
		return 401
	case ErrCodeOrderNotFound, ErrCodeProductNotFound, ErrCodeResourceNotFound:
		return 404
	case ErrCodeRateLimited:
		return 429
	case ErrCodeConfiguration:
		return 503
	case ErrCodeCarrierAPIError, ErrCodeCarrierAuthFailed, ErrCodeMessengerSendFailed,
		ErrCodeSheetsSyncFailed, ErrCodeExternalService:
		return 502
	case ErrCodeGenerationTimeout, ErrCodeTimeout:
		return 504
	default:
		return 500
	}
}
