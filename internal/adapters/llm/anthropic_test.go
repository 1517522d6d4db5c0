package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAnalysis(t *testing.T) {
	var gotReq anthropicRequest
	var gotAPIKey, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "{\"summary\": "},
				{"type": "tool_use"},
				{"type": "text", "text": "\"ok\"}"}
			],
			"model": "claude-sonnet-4-20250514",
			"usage": {"input_tokens": 1200, "output_tokens": 80}
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithBaseURL("sk-test", "claude-sonnet-4", server.URL, 5*time.Second)
	resp, err := client.GenerateAnalysis(context.Background(), "analyze this incident")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", gotAPIKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "claude-sonnet-4", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "analyze this incident", gotReq.Messages[0].Content)
	assert.NotEmpty(t, gotReq.System)
	assert.Equal(t, defaultMaxTokens, gotReq.MaxTokens)

	assert.Equal(t, `{"summary": "ok"}`, resp.Content, "text blocks concatenated, others skipped")
	assert.Equal(t, 1200, resp.TokenUsage.Input)
	assert.Equal(t, 80, resp.TokenUsage.Output)
	assert.Equal(t, 1280, resp.TokenUsage.Total)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.ModelUsed)
	assert.Greater(t, resp.Duration, time.Duration(0))
}

func TestGenerateAnalysisAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "Too many requests"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithBaseURL("sk-test", "claude-sonnet-4", server.URL, 5*time.Second)
	_, err := client.GenerateAnalysis(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "Too many requests")
}

func TestGenerateAnalysisOpaqueErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gateway exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewAnthropicClientWithBaseURL("sk-test", "claude-sonnet-4", server.URL, 5*time.Second)
	_, err := client.GenerateAnalysis(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream gateway exploded")
}

func TestName(t *testing.T) {
	client := NewAnthropicClient("sk-test", "claude-sonnet-4", 0)
	assert.Equal(t, "anthropic", client.Name())
}
