// internal/workers/ai-conversation/crawl-training/handler_test.go
package crawltraining

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopdesk/internal/assistant"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/messenger"
	"shopdesk/internal/models"
)

const pageID = "page-1"

// ==========================
// Test Doubles
// ==========================

type fakeInbox struct {
	convs   []messenger.Conversation
	threads map[string][]messenger.Message
	listErr error
	failing map[string]bool
}

func (f *fakeInbox) ListConversations(_ context.Context, _ string, limit int) ([]messenger.Conversation, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && len(f.convs) > limit {
		return f.convs[:limit], nil
	}
	return f.convs, nil
}

func (f *fakeInbox) Messages(_ context.Context, id string, _ int) ([]messenger.Message, error) {
	if f.failing[id] {
		return nil, errors.New("graph error")
	}
	return f.threads[id], nil
}

func (f *fakeInbox) PageID() string { return pageID }

// fakeSink dedups on (conversation, message) like the store does.
type fakeSink struct {
	seen    map[string]bool
	batches int
	err     error
}

func (s *fakeSink) Insert(_ context.Context, pairs []models.TrainingPair) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.batches++
	n := 0
	for _, p := range pairs {
		key := p.ConversationID + "/" + p.MessageID
		if !s.seen[key] {
			s.seen[key] = true
			n++
		}
	}
	return n, nil
}

type jsonGenerator struct {
	reply string
	err   error
	calls int
	opts  assistant.GenerateOptions
}

func (g *jsonGenerator) Name() string { return "json" }

func (g *jsonGenerator) Generate(_ context.Context, _ string, opts assistant.GenerateOptions) (string, error) {
	g.calls++
	g.opts = opts
	return g.reply, g.err
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Timeout:           5 * time.Second,
		ConversationLimit: 10,
		MessageLimit:      50,
		BatchSize:         2,
	}
}

func msg(id, from, text string) messenger.Message {
	return messenger.Message{ID: id, FromID: from, Text: text, CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func sampleInbox() *fakeInbox {
	return &fakeInbox{
		convs: []messenger.Conversation{{ID: "t_1"}, {ID: "t_2"}},
		threads: map[string][]messenger.Message{
			"t_1": {
				msg("m1", "cust-1", "shop ơi"),
				msg("m2", "cust-1", "áo này còn size L không"),
				msg("m3", pageID, "Dạ còn size L ạ"),
				msg("m4", pageID, "Chị lấy màu nào ạ"),
				msg("m5", "cust-1", "ship về Đà Nẵng mấy ngày"),
				msg("m6", pageID, "Dạ 3-4 ngày ạ"),
			},
			"t_2": {
				msg("n1", pageID, "Shop chào chị"),
				msg("n2", "cust-2", "ok cảm ơn"),
				msg("n3", pageID, "Dạ vâng ạ"),
				msg("n4", "cust-2", "   "),
			},
		},
	}
}

// ==========================
// Pairing & Categorisation
// ==========================

func TestPair(t *testing.T) {
	pairs := Pair("t_1", pageID, sampleInbox().threads["t_1"])
	require.Len(t, pairs, 2)

	assert.Equal(t, "shop ơi\náo này còn size L không", pairs[0].CustomerMessage)
	assert.Equal(t, "Dạ còn size L ạ", pairs[0].EmployeeResponse)
	assert.Equal(t, "m3", pairs[0].MessageID)
	assert.Equal(t, "t_1", pairs[0].ConversationID)
	assert.Empty(t, pairs[0].Context)

	assert.Equal(t, "ship về Đà Nẵng mấy ngày", pairs[1].CustomerMessage)
	assert.Equal(t, "m6", pairs[1].MessageID)
	assert.Equal(t, pairs[0].CustomerMessage, pairs[1].Context)
	assert.Equal(t, models.CategoryShipping, pairs[1].Category)
}

func TestPair_PageFirstAndBlankIgnored(t *testing.T) {
	pairs := Pair("t_2", pageID, sampleInbox().threads["t_2"])
	require.Len(t, pairs, 1)
	assert.Equal(t, "ok cảm ơn", pairs[0].CustomerMessage)
	assert.Equal(t, "n3", pairs[0].MessageID)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want models.Category
	}{
		{"Phí ship về Hà Nội bao nhiêu vậy shop", models.CategoryShipping},
		{"mình chuyển khoản được không", models.CategoryPayment},
		{"COD nha shop", models.CategoryPayment},
		{"chốt cho em 2 cái", models.CategoryOrder},
		{"áo này có màu trắng không", models.CategoryProduct},
		{"Xin chào shop", models.CategoryGreeting},
		{"hi", models.CategoryGreeting},
		{"chiều nay thi xong rồi", models.CategoryOther},
		{"cảm ơn nhiều", models.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

// ==========================
// Execute
// ==========================

func TestExecute(t *testing.T) {
	sink := &fakeSink{}
	h, err := NewHandler(createTestConfig(), sampleInbox(), sink, nil, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Conversations)
	assert.Equal(t, 3, out.Pairs)
	assert.Equal(t, 3, out.Inserted)
	assert.Equal(t, 0, out.Skipped)
	assert.Equal(t, 2, sink.batches) // batch size 2
	assert.Equal(t, 1, out.Categories["shipping"])
}

func TestExecute_Idempotent(t *testing.T) {
	sink := &fakeSink{}
	h, err := NewHandler(createTestConfig(), sampleInbox(), sink, nil, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 3, out.Skipped)
}

func TestExecute_ConversationFailureSkipped(t *testing.T) {
	inbox := sampleInbox()
	inbox.failing = map[string]bool{"t_1": true}
	h, err := NewHandler(createTestConfig(), inbox, &fakeSink{}, nil, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Inserted)
}

func TestExecute_ListFailure(t *testing.T) {
	inbox := sampleInbox()
	inbox.listErr = apperrors.NewExternalServiceError("messenger", errors.New("503"))
	h, err := NewHandler(createTestConfig(), inbox, &fakeSink{}, nil, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), &Input{})
	assert.Error(t, err)
}

func TestExecute_InsertFailure(t *testing.T) {
	h, err := NewHandler(createTestConfig(), sampleInbox(), &fakeSink{err: errors.New("db down")}, nil, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), &Input{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabaseInsertFailed, apperrors.Normalize(err).Code)
}

func TestExecute_AIClassify(t *testing.T) {
	cfg := createTestConfig()
	cfg.AIClassify = true
	gen := &jsonGenerator{reply: "```json\n{\"category\": \"Product\"}\n```"}

	sink := &fakeSink{}
	h, err := NewHandler(cfg, sampleInbox(), sink, gen, "gemini-2.5-flash", logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	// only "ok cảm ơn" falls through the keyword rules
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, assistant.FormatJSON, gen.opts.Format)
	assert.Equal(t, "gemini-2.5-flash", gen.opts.Model)
	assert.Equal(t, 0, out.Categories["other"])
}

func TestExecute_AIClassifyFailureKeepsOther(t *testing.T) {
	cfg := createTestConfig()
	cfg.AIClassify = true
	gen := &jsonGenerator{reply: "not json"}

	h, err := NewHandler(cfg, sampleInbox(), &fakeSink{}, gen, "", logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Categories["other"])
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(createTestConfig(), nil, &fakeSink{}, nil, "", logger.NewNoOpLogger())
	assert.Error(t, err)

	cfg := createTestConfig()
	cfg.AIClassify = true
	_, err = NewHandler(cfg, sampleInbox(), &fakeSink{}, nil, "", logger.NewNoOpLogger())
	assert.Error(t, err)
}
