package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testOracleConfig(baseURL string, models ...string) config.OracleConfig {
	return config.OracleConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		Models:            models,
		Timeout:           5 * time.Second,
		MaxRetries:        2,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		MaxTokens:         256,
	}
}

func writeCompletion(w http.ResponseWriter, content string) {
	resp := openai.ChatCompletionResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":{"message":"`+msg+`","type":"invalid_request_error"}}`)
}

// recorder counts requests per model and keeps the last decoded body.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	last  map[string]any
}

func (r *recorder) record(t *testing.T, req *http.Request) string {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Errorf("decode request: %v", err)
	}
	model, _ := body["model"].(string)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[model]++
	r.last = body
	return model
}

func (r *recorder) count(model string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[model]
}

func TestOpenAIOracle_GenerateText(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		rec.record(t, r)
		writeCompletion(w, `  {"is_valid": true}  `)
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "model-a"), testLogger())
	require.NoError(t, err)

	out, err := o.GenerateText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"is_valid": true}`, out)
	assert.Equal(t, 1, rec.count("model-a"))
}

func TestOpenAIOracle_ModelFallback(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(t, r) == "retired-model" {
			writeAPIError(w, http.StatusNotFound, "model not found")
			return
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "retired-model", "backup-model"), testLogger())
	require.NoError(t, err)

	out, err := o.GenerateText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, rec.count("retired-model"), "4xx must not be retried on the same model")
	assert.Equal(t, 1, rec.count("backup-model"))
}

func TestOpenAIOracle_EmptyAnswerIsRetried(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		if rec.count("model-a") == 1 {
			writeCompletion(w, "   ")
			return
		}
		writeCompletion(w, "second time")
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "model-a"), testLogger())
	require.NoError(t, err)

	out, err := o.GenerateText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "second time", out)
	assert.Equal(t, 2, rec.count("model-a"))
}

func TestOpenAIOracle_AllModelsFail(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		writeAPIError(w, http.StatusServiceUnavailable, "overloaded")
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "m1", "m2"), testLogger())
	require.NoError(t, err)

	_, err = o.GenerateText(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrOracleFault))
	assert.Equal(t, "Oracle_Fault", utils.CategorizeError(err))
	assert.Equal(t, 3, rec.count("m1"), "one attempt plus two retries")
	assert.Equal(t, 3, rec.count("m2"))
}

func TestOpenAIOracle_GenerateWithBytes(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		writeCompletion(w, "[]")
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "model-a"), testLogger())
	require.NoError(t, err)

	_, err = o.GenerateWithBytes(context.Background(), "extract", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)

	messages, ok := rec.last["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	parts, ok := messages[0].(map[string]any)["content"].([]any)
	require.True(t, ok, "bytes are sent as multi-part content")
	require.Len(t, parts, 2)

	assert.Equal(t, "extract", parts[0].(map[string]any)["text"])
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "data:application/pdf;base64,"), imageURL)
}

func TestOpenAIOracle_CancelledContext(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(testOracleConfig(server.URL, "m1", "m2"), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.GenerateText(ctx, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, rec.count("m1")+rec.count("m2"))
}

func TestNewOpenAIOracle_Invalid(t *testing.T) {
	_, err := NewOpenAIOracle(config.OracleConfig{Models: []string{"m"}}, testLogger())
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))

	_, err = NewOpenAIOracle(config.OracleConfig{BaseURL: "http://x"}, testLogger())
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}
