// internal/assistant/analyzer.go
package assistant

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"shopdesk/internal/common/config"
)

// DefaultUncertaintyPattern matches phrases meaning "I don't know", "not sure"
// or "please wait while I check", in Vietnamese and English.
const DefaultUncertaintyPattern = `(?i)(không biết|không chắc|không rõ|chưa rõ|chưa chắc|` +
	`để (em|mình|shop) (kiểm tra|check|xem lại)|vui lòng (chờ|đợi)|` +
	`i don'?t know|not sure|let me check|please wait)`

// AnalyzerPolicy holds the confidence heuristic. Penalties are additive and
// each applies at most once.
type AnalyzerPolicy struct {
	BaseConfidence     float64
	MinLength          int // runes; shorter replies are penalised
	MaxLength          int // runes; longer replies are penalised
	ShortPenalty       float64
	LongPenalty        float64
	UncertaintyPenalty float64
	Uncertainty        *regexp.Regexp
}

var defaultUncertainty = regexp.MustCompile(DefaultUncertaintyPattern)

func DefaultAnalyzerPolicy() AnalyzerPolicy {
	return AnalyzerPolicy{
		BaseConfidence:     0.8,
		MinLength:          10,
		MaxLength:          500,
		ShortPenalty:       0.2,
		LongPenalty:        0.1,
		UncertaintyPenalty: 0.2,
		Uncertainty:        defaultUncertainty,
	}
}

// NewAnalyzerPolicy builds a policy from config. Unset fields keep the
// defaults; an explicit zero is honoured.
func NewAnalyzerPolicy(cfg config.AIAnalyzerConfig) (AnalyzerPolicy, error) {
	p := DefaultAnalyzerPolicy()
	override(&p.BaseConfidence, cfg.BaseConfidence)
	override(&p.MinLength, cfg.MinLength)
	override(&p.MaxLength, cfg.MaxLength)
	override(&p.ShortPenalty, cfg.ShortPenalty)
	override(&p.LongPenalty, cfg.LongPenalty)
	override(&p.UncertaintyPenalty, cfg.UncertaintyPenalty)
	if cfg.UncertaintyPattern != "" {
		re, err := regexp.Compile(cfg.UncertaintyPattern)
		if err != nil {
			return p, fmt.Errorf("%w: invalid uncertainty pattern: %v", ErrConfiguration, err)
		}
		p.Uncertainty = re
	}
	return p, nil
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Response is the analysed model output.
type Response struct {
	Message       string  `json:"message"`
	Confidence    float64 `json:"confidence"`
	ShouldHandoff bool    `json:"shouldHandoff"`
}

// Analyze is total: any input, including the empty string, yields a response
// with confidence in [0,1].
func (p AnalyzerPolicy) Analyze(raw string) Response {
	handoff := strings.Contains(raw, HandoffToken)
	msg := raw
	// removal can splice a new marker together, e.g. "[HAND[HANDOFF]OFF]"
	for strings.Contains(msg, HandoffToken) {
		msg = strings.ReplaceAll(msg, HandoffToken, "")
	}
	msg = strings.TrimSpace(msg)

	confidence := p.BaseConfidence
	n := utf8.RuneCountInString(msg)
	if n < p.MinLength {
		confidence -= p.ShortPenalty
	}
	if n > p.MaxLength {
		confidence -= p.LongPenalty
	}
	if p.Uncertainty != nil && p.Uncertainty.MatchString(msg) {
		confidence -= p.UncertaintyPenalty
	}

	return Response{
		Message:       msg,
		Confidence:    clamp(confidence),
		ShouldHandoff: handoff,
	}
}

// Analyze runs the default policy.
func Analyze(raw string) Response {
	return DefaultAnalyzerPolicy().Analyze(raw)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return math.Round(v*1e4) / 1e4
}
