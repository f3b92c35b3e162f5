// internal/assistant/generator.go
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration means no request could be made (missing credential,
	// bad model settings). It is the only error GenerateReply surfaces.
	ErrConfiguration = errors.New("CONFIGURATION_ERROR")

	// ErrGenerationFailed matches every *GenerationFailure.
	ErrGenerationFailed = errors.New("GENERATION_FAILURE")

	// ErrRateLimited matches failures caused by provider quota (HTTP 429,
	// RESOURCE_EXHAUSTED).
	ErrRateLimited = errors.New("RATE_LIMITED")

	// ErrCredentialRejected matches failures where the provider refused the
	// API key (HTTP 401/403). Other credentials in the pool may still work.
	ErrCredentialRejected = errors.New("CREDENTIAL_REJECTED")

	ErrMalformedOutput = errors.New("MALFORMED_OUTPUT")
)

type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

type GenerateOptions struct {
	Model  string
	Format ResponseFormat
	// ThinkingBudget limits reasoning tokens on providers that support it.
	// Nil leaves the provider default.
	ThinkingBudget *int32
}

// Generator performs exactly one text-generation request per call.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Name() string
}

// GenerationFailure wraps a transport or provider error.
type GenerationFailure struct {
	Provider    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *GenerationFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "generation failed (%s", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ", status %d", e.StatusCode)
	}
	if e.RateLimited {
		sb.WriteString(", rate limited")
	}
	sb.WriteString(")")
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

func (e *GenerationFailure) Is(target error) bool {
	switch target {
	case ErrGenerationFailed:
		return true
	case ErrRateLimited:
		return e.RateLimited
	case ErrCredentialRejected:
		return e.StatusCode == 401 || e.StatusCode == 403
	}
	return false
}

// NewConfigurationError wraps ErrConfiguration with a reason.
func NewConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsCredentialRejected(err error) bool {
	return errors.Is(err, ErrCredentialRejected)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// DecodeJSON parses a JSON-mode reply into v. Models sometimes wrap JSON in
// markdown fences; those are stripped first.
func DecodeJSON(raw string, v interface{}) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
