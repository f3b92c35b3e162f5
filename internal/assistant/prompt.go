// internal/assistant/prompt.go
package assistant

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"shopdesk/internal/models"
)

const (
	// HandoffToken is the marker the model prefixes when a human should take over.
	HandoffToken = "[HANDOFF]"

	CustomerLabel = "Khách"
	ShopLabel     = "Shop"

	noExamplesInstruction = "Chưa có hội thoại mẫu. Hãy trả lời thân thiện, ngắn gọn, đúng trọng tâm."
	emptyCatalogNote      = "Danh mục sản phẩm đang được cập nhật."
	newConversationNote   = "(cuộc trò chuyện mới)"
)

const (
	DefaultTrainingPairLimit = 10
	DefaultProductLimit      = 20
	DefaultHistoryLimit      = 5
)

// PromptLimits caps each section of the prompt. Zero values fall back to
// the defaults.
type PromptLimits struct {
	TrainingPairs int
	Products      int
	HistoryTurns  int
}

func DefaultPromptLimits() PromptLimits {
	return PromptLimits{
		TrainingPairs: DefaultTrainingPairLimit,
		Products:      DefaultProductLimit,
		HistoryTurns:  DefaultHistoryLimit,
	}
}

func (l PromptLimits) normalized() PromptLimits {
	d := DefaultPromptLimits()
	if l.TrainingPairs <= 0 {
		l.TrainingPairs = d.TrainingPairs
	}
	if l.Products <= 0 {
		l.Products = d.Products
	}
	if l.HistoryTurns <= 0 {
		l.HistoryTurns = d.HistoryTurns
	}
	return l
}

type ShopInfo struct {
	Name    string
	Hotline string
	Address string
	Hours   string
	Policy  string
}

func (s ShopInfo) isZero() bool {
	return s == ShopInfo{}
}

type PromptInput struct {
	CustomerMessage string
	TrainingPairs   []models.TrainingPair
	Products        []models.ProductSummary
	History         []models.ConversationTurn
}

// PromptBuilder renders the instruction prompt. Build is pure: identical
// input yields byte-identical output.
type PromptBuilder struct {
	limits   PromptLimits
	shop     ShopInfo
	glossary [][2]string
}

func NewPromptBuilder(limits PromptLimits, shop ShopInfo, glossary map[string]string) *PromptBuilder {
	terms := make([][2]string, 0, len(glossary))
	for abbr, meaning := range glossary {
		terms = append(terms, [2]string{norm.NFC.String(abbr), norm.NFC.String(meaning)})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i][0] < terms[j][0] })

	return &PromptBuilder{
		limits:   limits.normalized(),
		shop:     shop,
		glossary: terms,
	}
}

func (b *PromptBuilder) Limits() PromptLimits { return b.limits }

func (b *PromptBuilder) Build(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString(b.preamble())

	section(&sb, "Phong cách trả lời (học theo các hội thoại mẫu)")
	sb.WriteString(b.renderExamples(in.TrainingPairs))

	section(&sb, "Quy tắc bắt buộc")
	sb.WriteString(rules)

	if len(b.glossary) > 0 {
		section(&sb, "Từ viết tắt khách hay dùng")
		for _, t := range b.glossary {
			fmt.Fprintf(&sb, "- %s: %s\n", t[0], t[1])
		}
	}

	if !b.shop.isZero() {
		section(&sb, "Thông tin cửa hàng")
		sb.WriteString(b.renderShopInfo())
	}

	section(&sb, "Sản phẩm hiện có")
	sb.WriteString(b.renderProducts(in.Products))

	section(&sb, "Lịch sử hội thoại gần đây")
	sb.WriteString(b.renderHistory(in.History))

	section(&sb, "Tin nhắn mới của khách")
	fmt.Fprintf(&sb, "%q\n", flatten(in.CustomerMessage))

	section(&sb, "Yêu cầu")
	fmt.Fprintf(&sb, "Chỉ viết nội dung tin nhắn trả lời, không giải thích thêm. "+
		"Nếu cần chuyển cho nhân viên, bắt đầu câu trả lời bằng %s.\n", HandoffToken)

	return sb.String()
}

func (b *PromptBuilder) preamble() string {
	name := b.shop.Name
	if name == "" {
		name = "shop thời trang"
	}
	return fmt.Sprintf("Bạn là nhân viên tư vấn bán hàng của %s, trả lời khách qua Facebook Messenger và Instagram. "+
		"Xưng \"em\", gọi khách là \"anh/chị\".\n", name)
}

var rules = strings.Join([]string{
	"- Trả lời tối đa 3 câu, dưới 300 ký tự.",
	"- Giọng lễ phép, thân thiện, tự nhiên như người thật.",
	"- Dùng tối đa 1 emoji; không dùng emoji khi khách đang phàn nàn.",
	"- Nếu không chắc chắn về thông tin (giá, tồn kho, chính sách), bắt đầu bằng " + HandoffToken + ".",
	"- Nếu khách phàn nàn, đòi hoàn tiền, đổi trả hoặc bức xúc, bắt đầu bằng " + HandoffToken + ".",
	"- Chỉ trả lời về sản phẩm, đơn hàng, giao hàng, thanh toán của shop; không bịa giá hay khuyến mãi.",
}, "\n") + "\n"

func section(sb *strings.Builder, title string) {
	sb.WriteString("\n## ")
	sb.WriteString(title)
	sb.WriteString("\n")
}

func (b *PromptBuilder) renderExamples(pairs []models.TrainingPair) string {
	if len(pairs) == 0 {
		return noExamplesInstruction + "\n"
	}
	if len(pairs) > b.limits.TrainingPairs {
		pairs = pairs[:b.limits.TrainingPairs]
	}

	blocks := make([]string, 0, len(pairs))
	for _, p := range pairs {
		blocks = append(blocks, fmt.Sprintf("%s: %s\n%s: %s",
			CustomerLabel, flatten(p.CustomerMessage),
			ShopLabel, flatten(p.EmployeeResponse)))
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func (b *PromptBuilder) renderProducts(products []models.ProductSummary) string {
	if len(products) == 0 {
		return emptyCatalogNote + "\n"
	}
	if len(products) > b.limits.Products {
		products = products[:b.limits.Products]
	}

	var sb strings.Builder
	for _, p := range products {
		fmt.Fprintf(&sb, "- %s: %s, %s", flatten(p.Name), FormatVND(p.Price), stockStatus(p.Stock))
		if len(p.Sizes) > 0 {
			fmt.Fprintf(&sb, ", size: %s", flatten(strings.Join(p.Sizes, ", ")))
		}
		if len(p.Colors) > 0 {
			fmt.Fprintf(&sb, ", màu: %s", flatten(strings.Join(p.Colors, ", ")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func stockStatus(stock int) string {
	if stock <= 0 {
		return "hết hàng"
	}
	return fmt.Sprintf("còn hàng (%d)", stock)
}

func (b *PromptBuilder) renderHistory(history []models.ConversationTurn) string {
	if len(history) == 0 {
		return newConversationNote + "\n"
	}
	if len(history) > b.limits.HistoryTurns {
		history = history[len(history)-b.limits.HistoryTurns:]
	}

	var sb strings.Builder
	for _, t := range history {
		label := CustomerLabel
		if t.Role == models.RoleEmployee {
			label = ShopLabel
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, flatten(t.Message))
	}
	return sb.String()
}

func (b *PromptBuilder) renderShopInfo() string {
	var sb strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}
	line("Tên", b.shop.Name)
	line("Hotline", b.shop.Hotline)
	line("Địa chỉ", b.shop.Address)
	line("Giờ mở cửa", b.shop.Hours)
	line("Chính sách", b.shop.Policy)
	return sb.String()
}

// FormatVND renders an amount in dong with Vietnamese digit grouping,
// e.g. 150000 -> "150.000đ".
func FormatVND(amount int64) string {
	return message.NewPrinter(language.Vietnamese).Sprintf("%d", amount) + "đ"
}

// flatten keeps each rendered entry on a single line, in NFC so that
// decomposed input (common from mobile keyboards) renders identically.
func flatten(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
