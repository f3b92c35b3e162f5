// internal/assistant/provider/mock.go
package provider

import (
	"context"
	"strings"

	"github.com/tidwall/sjson"

	"shopdesk/internal/assistant"
)

const MockName = "mock"

// handoffKeywords make the mock behave like a model that knows when to
// hand over: complaints and refunds go to a human.
var handoffKeywords = []string{"hoàn tiền", "khiếu nại", "đổi trả", "lừa đảo", "refund"}

// Mock answers without any network call. It is used for local runs and the
// reply-preview tool.
type Mock struct {
	Reply string
}

func NewMock(reply string) *Mock {
	if reply == "" {
		reply = "Dạ shop chào anh/chị ạ, anh/chị cần tư vấn mẫu nào ạ?"
	}
	return &Mock{Reply: reply}
}

func (m *Mock) Name() string { return MockName }

func (m *Mock) Generate(ctx context.Context, prompt string, opts assistant.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &assistant.GenerationFailure{Provider: MockName, Err: err}
	}

	msg := strings.ToLower(lastCustomerMessage(prompt))
	for _, kw := range handoffKeywords {
		if strings.Contains(msg, kw) {
			return assistant.HandoffToken + " Dạ em xin phép chuyển anh/chị sang nhân viên hỗ trợ ngay ạ.", nil
		}
	}

	if opts.Format == assistant.FormatJSON {
		out, err := sjson.Set(`{}`, "reply", m.Reply)
		if err != nil {
			return "", &assistant.GenerationFailure{Provider: MockName, Err: err}
		}
		return out, nil
	}
	return m.Reply, nil
}

// lastCustomerMessage pulls the quoted message out of the final prompt
// section so keyword matching ignores the training examples.
func lastCustomerMessage(prompt string) string {
	idx := strings.LastIndex(prompt, "## Tin nhắn mới của khách")
	if idx < 0 {
		return prompt
	}
	rest := prompt[idx:]
	if end := strings.Index(rest, "\n## "); end > 0 {
		rest = rest[:end]
	}
	return rest
}

// MockFactory ignores the key.
func MockFactory(reply string) assistant.Factory {
	return func(string) (assistant.Generator, error) {
		return NewMock(reply), nil
	}
}
