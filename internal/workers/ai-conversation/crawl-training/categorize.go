// internal/workers/ai-conversation/crawl-training/categorize.go
package crawltraining

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"shopdesk/internal/assistant"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
)

// Rules are checked in order; the first match wins. Keywords containing a
// space match as phrases, single words only as whole tokens.
var rules = []struct {
	category models.Category
	keywords []string
}{
	{models.CategoryShipping, []string{"ship", "giao hàng", "vận chuyển", "phí ship", "mấy ngày", "bao lâu", "nhận hàng", "freeship"}},
	{models.CategoryPayment, []string{"chuyển khoản", "thanh toán", "cod", "stk", "số tài khoản", "momo", "banking"}},
	{models.CategoryOrder, []string{"đặt", "chốt", "đơn", "order", "mua", "lấy"}},
	{models.CategoryProduct, []string{"size", "màu", "giá", "còn hàng", "chất liệu", "mẫu", "bao nhiêu"}},
	{models.CategoryGreeting, []string{"xin chào", "chào", "hello", "hi", "alo", "shop ơi"}},
}

// Categorize labels a customer message by keyword.
func Categorize(text string) models.Category {
	lower := norm.NFC.String(strings.ToLower(text))
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = true
	}

	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					return rule.category
				}
				continue
			}
			if tokens[kw] {
				return rule.category
			}
		}
	}
	return models.CategoryOther
}

const classifyPrompt = `Phân loại tin nhắn của khách hàng shop thời trang vào đúng một nhóm:
greeting, product, order, shipping, payment, other.
Trả về JSON dạng {"category": "<nhóm>"}.

Tin nhắn: %q`

// aiClassifier asks the model for a category in JSON mode.
type aiClassifier struct {
	gen   assistant.Generator
	model string
}

func (c aiClassifier) classify(ctx context.Context, text string) (models.Category, error) {
	raw, err := c.gen.Generate(ctx, fmt.Sprintf(classifyPrompt, text), assistant.GenerateOptions{
		Model:  c.model,
		Format: assistant.FormatJSON,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Category string `json:"category"`
	}
	if err := assistant.DecodeJSON(raw, &out); err != nil {
		return "", apperrors.NewMalformedOutputError(err)
	}
	cat := models.ParseCategory(out.Category)
	if cat == "" {
		cat = models.CategoryOther
	}
	return cat, nil
}

// Pair walks one thread (oldest first) and pairs each customer message with
// the next reply written by the page. Consecutive customer messages are
// joined; page messages that do not answer a pending customer message are
// ignored. The page reply's id is the dedup key.
func Pair(conversationID, pageID string, msgs []messenger.Message) []models.TrainingPair {
	var (
		out      []models.TrainingPair
		pending  []string
		previous string
	)
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if m.FromID != pageID {
			pending = append(pending, text)
			continue
		}
		if len(pending) == 0 {
			continue
		}
		customer := strings.Join(pending, "\n")
		out = append(out, models.TrainingPair{
			ConversationID:   conversationID,
			MessageID:        m.ID,
			CustomerMessage:  customer,
			EmployeeResponse: text,
			Context:          previous,
			Category:         Categorize(customer),
			CreatedAt:        m.CreatedAt,
		})
		previous = customer
		pending = nil
	}
	return out
}
