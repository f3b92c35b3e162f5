package assistant

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopdesk/internal/common/config"
)

func TestAnalyze_ConfidenceRules(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantConf    float64
		wantHandoff bool
		wantMessage string
	}{
		{
			name:        "normal reply keeps base confidence",
			raw:         "Dạ áo còn size M ạ, anh/chị muốn lấy màu nào ạ?",
			wantConf:    0.8,
			wantMessage: "Dạ áo còn size M ạ, anh/chị muốn lấy màu nào ạ?",
		},
		{
			name:        "short reply",
			raw:         "short",
			wantConf:    0.6,
			wantMessage: "short",
		},
		{
			name:     "uncertainty phrase",
			raw:      "Dạ em không biết mẫu này còn hàng không ạ",
			wantConf: 0.6,
		},
		{
			name:     "short and uncertain stack",
			raw:      "không rõ",
			wantConf: 0.4,
		},
		{
			name:     "english uncertainty is case insensitive",
			raw:      "I'm NOT SURE about that size, sorry",
			wantConf: 0.6,
		},
		{
			name:     "long reply",
			raw:      strings.Repeat("a", 501),
			wantConf: 0.7,
		},
		{
			name:        "sentinel prefix",
			raw:         "[HANDOFF] Dạ em chuyển anh/chị cho nhân viên ạ",
			wantConf:    0.8,
			wantHandoff: true,
			wantMessage: "Dạ em chuyển anh/chị cho nhân viên ạ",
		},
		{
			name:        "sentinel in the middle",
			raw:         "Dạ anh/chị đợi chút [HANDOFF] nhân viên sẽ hỗ trợ",
			wantConf:    0.8,
			wantHandoff: true,
			wantMessage: "Dạ anh/chị đợi chút  nhân viên sẽ hỗ trợ",
		},
		{
			name:        "only sentinel",
			raw:         "[HANDOFF]",
			wantConf:    0.6,
			wantHandoff: true,
			wantMessage: "",
		},
		{
			name:        "empty output",
			raw:         "",
			wantConf:    0.6,
			wantMessage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.raw)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantHandoff, got.ShouldHandoff)
			if tt.wantMessage != "" || tt.raw == "" || tt.wantHandoff {
				assert.Equal(t, tt.wantMessage, got.Message)
			}
		})
	}
}

func TestAnalyze_LengthCountsRunes(t *testing.T) {
	// 9 runes but 14 bytes
	got := Analyze("Dạ vâng ạ")
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)

	// exactly 10 runes is not short
	got = Analyze("Dạ có ạ!!!")
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestAnalyze_SentinelNeverSurvives(t *testing.T) {
	inputs := []string{
		"[HANDOFF][HANDOFF] xin lỗi",
		"[HAND[HANDOFF]OFF] xin lỗi",
		"a[HANDOFF]b[HANDOFF]c",
	}
	for _, raw := range inputs {
		got := Analyze(raw)
		assert.True(t, got.ShouldHandoff, raw)
		assert.NotContains(t, got.Message, HandoffToken, raw)
	}
}

func TestAnalyze_ClampsOutOfRangePolicies(t *testing.T) {
	p := DefaultAnalyzerPolicy()
	p.BaseConfidence = 0.1
	assert.Equal(t, 0.0, p.Analyze("không rõ").Confidence)

	p.BaseConfidence = 3
	assert.Equal(t, 1.0, p.Analyze("Dạ còn hàng ạ, anh/chị chọn size nào?").Confidence)

	p.BaseConfidence = math.NaN()
	got := p.Analyze("anything at all here")
	assert.False(t, math.IsNaN(got.Confidence))
	assert.Equal(t, 0.0, got.Confidence)
}

func TestNewAnalyzerPolicy(t *testing.T) {
	p, err := NewAnalyzerPolicy(config.AIAnalyzerConfig{
		BaseConfidence:     ptr(0.85),
		MinLength:          ptr(5),
		UncertaintyPattern: `(?i)hmm`,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.85, p.BaseConfidence)
	assert.Equal(t, 5, p.MinLength)
	assert.Equal(t, 500, p.MaxLength)
	assert.InDelta(t, 0.65, p.Analyze("Hmm, để em xem").Confidence, 1e-9)

	_, err = NewAnalyzerPolicy(config.AIAnalyzerConfig{UncertaintyPattern: "("})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewAnalyzerPolicy_ExplicitZeroes(t *testing.T) {
	p, err := NewAnalyzerPolicy(config.AIAnalyzerConfig{
		BaseConfidence:     ptr(0.0),
		ShortPenalty:       ptr(0.0),
		LongPenalty:        ptr(0.0),
		UncertaintyPenalty: ptr(0.0),
	})
	require.NoError(t, err)

	assert.Zero(t, p.BaseConfidence)
	assert.Zero(t, p.ShortPenalty)
	assert.Zero(t, p.UncertaintyPenalty)
	assert.Equal(t, 0.0, p.Analyze("không rõ").Confidence)

	p, err = NewAnalyzerPolicy(config.AIAnalyzerConfig{
		ShortPenalty:       ptr(0.0),
		UncertaintyPenalty: ptr(0.0),
	})
	require.NoError(t, err)
	// penalties disabled: a short uncertain reply keeps the base score
	assert.InDelta(t, 0.8, p.Analyze("không rõ").Confidence, 1e-9)
}
