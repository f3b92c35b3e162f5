package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"shopdesk/internal/assistant"
	"shopdesk/internal/common/config"
	"shopdesk/internal/common/logger"
)

// ==========================================
// Gemini
// ==========================================

func geminiServer(t *testing.T, status int, body string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_Generate(t *testing.T) {
	var req map[string]interface{}
	srv := geminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Dạ còn size M ạ"}]},"finishReason":"STOP"}]}`, &req)

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	budget := int32(0)
	out, err := g.Generate(context.Background(), "hello", assistant.GenerateOptions{
		Format:         assistant.FormatJSON,
		ThinkingBudget: &budget,
	})

	require.NoError(t, err)
	assert.Equal(t, "Dạ còn size M ạ", out)
	assert.Equal(t, GeminiName, g.Name())

	gc, ok := req["generationConfig"].(map[string]interface{})
	require.True(t, ok, "generationConfig missing: %v", req)
	assert.Equal(t, "application/json", gc["responseMimeType"])
}

func TestGemini_RateLimited(t *testing.T) {
	srv := geminiServer(t, http.StatusTooManyRequests,
		`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, nil)

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "hello", assistant.GenerateOptions{})

	require.Error(t, err)
	assert.True(t, assistant.IsRateLimited(err))
}

func TestGemini_ServerError(t *testing.T) {
	srv := geminiServer(t, http.StatusInternalServerError,
		`{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`, nil)

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "hello", assistant.GenerateOptions{})

	assert.ErrorIs(t, err, assistant.ErrGenerationFailed)
	assert.False(t, assistant.IsRateLimited(err))
}

func TestGemini_RejectedCredential(t *testing.T) {
	srv := geminiServer(t, http.StatusForbidden,
		`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, nil)

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "hello", assistant.GenerateOptions{})

	require.Error(t, err)
	assert.True(t, assistant.IsCredentialRejected(err))
	assert.False(t, assistant.IsConfigurationError(err))
	assert.False(t, assistant.IsRateLimited(err))
}

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		rateLimited bool
	}{
		{
			name:        "api error 429",
			err:         genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"},
			status:      429,
			rateLimited: true,
		},
		{
			name:        "wrapped api error pointer",
			err:         fmt.Errorf("call: %w", &genai.APIError{Code: 503, Status: "RESOURCE_EXHAUSTED"}),
			status:      503,
			rateLimited: true,
		},
		{
			name:   "api error 500",
			err:    genai.APIError{Code: 500, Status: "INTERNAL"},
			status: 500,
		},
		{
			name: "transport error mentioning 429",
			err:  errors.New("dial tcp 10.0.0.1:4290: connection refused after 429ms"),
		},
		{
			name: "message mentioning quota status",
			err:  errors.New("upstream said RESOURCE_EXHAUSTED in body"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGeminiError(tt.err)

			var failure *assistant.GenerationFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.status, failure.StatusCode)
			assert.Equal(t, tt.rateLimited, assistant.IsRateLimited(err))
		})
	}
}

func TestGemini_NoCandidates(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, `{"candidates":[]}`, nil)

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "hello", assistant.GenerateOptions{})
	assert.ErrorIs(t, err, assistant.ErrGenerationFailed)
}

func TestGemini_MissingKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiOptions{})
	assert.True(t, assistant.IsConfigurationError(err))
}

// ==========================================
// OpenAI
// ==========================================

func TestOpenAI_Generate(t *testing.T) {
	var req map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Dạ shop chào anh/chị"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	out, err := o.Generate(context.Background(), "xin chào", assistant.GenerateOptions{Format: assistant.FormatJSON})

	require.NoError(t, err)
	assert.Equal(t, "Dạ shop chào anh/chị", out)
	assert.Equal(t, "gpt-4o-mini", req["model"])
	rf, ok := req["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		rateLimited bool
		rejected    bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, rateLimited: true},
		{name: "bad credential", status: http.StatusUnauthorized, rejected: true},
		{name: "forbidden credential", status: http.StatusForbidden, rejected: true},
		{name: "server error", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := openAIServer(t, map[string]int{"sk": tt.status})

			o, err := NewOpenAI(OpenAIOptions{APIKey: "sk", BaseURL: srv.URL + "/v1/"})
			require.NoError(t, err)

			_, err = o.Generate(context.Background(), "p", assistant.GenerateOptions{})

			require.Error(t, err)
			assert.ErrorIs(t, err, assistant.ErrGenerationFailed)
			assert.Equal(t, tt.rateLimited, assistant.IsRateLimited(err))
			assert.Equal(t, tt.rejected, assistant.IsCredentialRejected(err))
			assert.False(t, assistant.IsConfigurationError(err))

			var failure *assistant.GenerationFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.status, failure.StatusCode)
		})
	}
}

// openAIServer answers chat completions with the status mapped to the bearer
// key, or 200 for unknown keys.
func openAIServer(t *testing.T, statusByKey map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.Header().Set("Content-Type", "application/json")
		if status, ok := statusByKey[key]; ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Dạ áo còn size M ạ, anh/chị cần thêm gì không ạ?"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_RejectedCredentialYieldsFallback(t *testing.T) {
	srv := openAIServer(t, map[string]int{"sk-revoked": http.StatusUnauthorized})

	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-revoked", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	p, err := assistant.NewPipeline(assistant.PipelineOptions{
		Generator: o,
		Timeout:   2 * time.Second,
		Logger:    logger.NewTestLogger(t),
	})
	require.NoError(t, err)

	resp, err := p.GenerateReply(context.Background(), assistant.Request{CustomerMessage: "áo còn size M không shop?"})

	require.NoError(t, err)
	assert.Equal(t, p.Fallback(), resp)
	assert.True(t, resp.ShouldHandoff)
}

func TestBuild_RotatesPastRejectedCredential(t *testing.T) {
	srv := openAIServer(t, map[string]int{"sk-revoked": http.StatusUnauthorized})

	gen, err := Build(config.AIConfig{
		Provider: OpenAIName,
		APIKeys:  []string{"sk-revoked", "sk-live"},
		BaseURL:  srv.URL + "/v1/",
	}, logger.NewTestLogger(t))
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), "p", assistant.GenerateOptions{})

	require.NoError(t, err)
	assert.Contains(t, out, "size M")
	rot, ok := gen.(*assistant.RotatingGenerator)
	require.True(t, ok)
	assert.Equal(t, 1, rot.Current())
}

// ==========================================
// Mock and Build
// ==========================================

func TestMock(t *testing.T) {
	m := NewMock("")

	out, err := m.Generate(context.Background(), "## Tin nhắn mới của khách\n\"áo còn không\"", assistant.GenerateOptions{})
	require.NoError(t, err)
	assert.NotContains(t, out, assistant.HandoffToken)

	out, err = m.Generate(context.Background(), "## Tin nhắn mới của khách\n\"Shop hoàn tiền cho mình\"", assistant.GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, assistant.HandoffToken))

	out, err = NewMock("dạ \"ok\"").Generate(context.Background(), "x", assistant.GenerateOptions{Format: assistant.FormatJSON})
	require.NoError(t, err)
	var decoded struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, assistant.DecodeJSON(out, &decoded))
	assert.Equal(t, `dạ "ok"`, decoded.Reply)

	for _, reply := range []string{"dạ\tok", "size\x01M", `C:\shop`, "dòng 1\r\ndòng 2", "emoji 😊 \u2028"} {
		out, err = NewMock(reply).Generate(context.Background(), "x", assistant.GenerateOptions{Format: assistant.FormatJSON})
		require.NoError(t, err)
		require.True(t, json.Valid([]byte(out)), out)
		require.NoError(t, assistant.DecodeJSON(out, &decoded))
		assert.Equal(t, reply, decoded.Reply)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Generate(ctx, "x", assistant.GenerateOptions{})
	assert.ErrorIs(t, err, assistant.ErrGenerationFailed)
}

func TestBuild(t *testing.T) {
	log := logger.NewTestLogger(t)

	t.Run("mock needs no keys", func(t *testing.T) {
		gen, err := Build(config.AIConfig{Provider: MockName}, log)
		require.NoError(t, err)
		out, err := gen.Generate(context.Background(), "x", assistant.GenerateOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	})

	t.Run("retry wraps rotation", func(t *testing.T) {
		gen, err := Build(config.AIConfig{Provider: GeminiName, APIKeys: []string{"a", "b"}, Retry: config.AIRetryConfig{Enabled: true}}, log)
		require.NoError(t, err)
		_, ok := gen.(*assistant.RetryingGenerator)
		assert.True(t, ok)
	})

	t.Run("rotation pool holds non-empty keys", func(t *testing.T) {
		gen, err := Build(config.AIConfig{Provider: OpenAIName, APIKeys: []string{"a", "", "c"}}, log)
		require.NoError(t, err)
		rot, ok := gen.(*assistant.RotatingGenerator)
		require.True(t, ok)
		assert.Equal(t, 2, rot.PoolSize())
		assert.Equal(t, OpenAIName, rot.Name())
	})

	t.Run("gemini without keys fails at call time", func(t *testing.T) {
		gen, err := Build(config.AIConfig{Provider: GeminiName}, log)
		require.NoError(t, err)
		_, err = gen.Generate(context.Background(), "x", assistant.GenerateOptions{})
		assert.True(t, assistant.IsConfigurationError(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := Build(config.AIConfig{Provider: "llama"}, log)
		assert.True(t, assistant.IsConfigurationError(err))
	})
}
