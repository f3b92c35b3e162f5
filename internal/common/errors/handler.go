// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ErrorHandler turns a worker error into either a failed job (Zeebe retries
// it) or a thrown BPMN error (the process takes its error boundary).
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Normalize returns the first StandardError in err's chain, or wraps err as
// an internal error.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// remainingRetries is the retry count to report when failing job, or -1 when
// the error should be thrown instead.
func remainingRetries(job entities.Job, bpmnErr *BPMNError) int {
	if bpmnErr.Retries == 0 || job.Retries <= 1 {
		return -1
	}
	left := int(job.Retries) - 1
	if left > bpmnErr.Retries {
		left = bpmnErr.Retries
	}
	return left
}

func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)
	retries := remainingRetries(job, bpmnErr)

	fields := map[string]interface{}{
		"jobKey":             job.Key,
		"jobType":            job.Type,
		"processInstanceKey": job.ProcessInstanceKey,
		"errorCode":          bpmnErr.Code,
		"category":           GetErrorCategory(stdErr.Code),
		"details":            stdErr.Details,
		"retriesLeft":        retries,
	}
	if retries >= 0 {
		h.logger.Warn("job failed, will retry", fields)
	} else {
		h.logger.Error("job failed, throwing BPMN error", fields)
	}

	vars, _ := json.Marshal(bpmnErr.ToErrorVariables())

	if retries >= 0 {
		fail := client.NewFailJobCommand().JobKey(job.Key).Retries(int32(retries)).ErrorMessage(bpmnErr.Message)
		if withVars, err := fail.VariablesFromString(string(vars)); err == nil {
			_, err = withVars.Send(ctx)
			h.logSendError(job, "fail", err)
			return
		}
		_, err := fail.Send(ctx)
		h.logSendError(job, "fail", err)
		return
	}

	throw := client.NewThrowErrorCommand().JobKey(job.Key).ErrorCode(bpmnErr.Code).ErrorMessage(bpmnErr.Message)
	if withVars, err := throw.VariablesFromString(string(vars)); err == nil {
		_, err = withVars.Send(ctx)
		h.logSendError(job, "throw", err)
		return
	}
	_, err = throw.Send(ctx)
	h.logSendError(job, "throw", err)
}

func (h *ErrorHandler) logSendError(job entities.Job, command string, err error) {
	if err == nil {
		return
	}
	h.logger.Error("job command not delivered", map[string]interface{}{
		"jobKey":  job.Key,
		"command": command,
		"error":   err,
	})
}
