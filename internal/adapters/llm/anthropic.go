package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultTimeout      = 2 * time.Minute
)

// AnthropicClient implements Provider against Anthropic's Messages API.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient creates a client for the given model.
// timeout is optional - pass 0 to use the default.
func NewAnthropicClient(apiKey, model string, timeout time.Duration) *AnthropicClient {
	return NewAnthropicClientWithBaseURL(apiKey, model, anthropicAPIURL, timeout)
}

// NewAnthropicClientWithBaseURL creates a client with a custom messages
// endpoint, for tests and proxy deployments.
func NewAnthropicClientWithBaseURL(apiKey, model, baseURL string, timeout time.Duration) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = "You are an incident root-cause analyst. Respond with a single JSON object and nothing else: no prose, no Markdown fences."

// GenerateAnalysis sends the prompt as a single user message.
func (c *AnthropicClient) GenerateAnalysis(ctx context.Context, prompt string) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt,
	})
	if err != nil {
		return nil, senterrors.Analysis("llm.encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, senterrors.ExternalAPI("llm.request", "anthropic", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, senterrors.ExternalAPI("llm.request", "anthropic", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, senterrors.ExternalAPI("llm.read", "anthropic", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return nil, senterrors.ExternalAPI("llm.request", "anthropic",
			fmt.Errorf("status %d: %s", resp.StatusCode, message)).
			WithStatusCode(resp.StatusCode)
	}

	var payload anthropicResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, senterrors.ExternalAPI("llm.decode", "anthropic", err)
	}

	var text strings.Builder
	for _, block := range payload.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content: text.String(),
		TokenUsage: TokenUsage{
			Input:  payload.Usage.InputTokens,
			Output: payload.Usage.OutputTokens,
			Total:  payload.Usage.InputTokens + payload.Usage.OutputTokens,
		},
		Duration:  time.Since(start),
		ModelUsed: payload.Model,
	}, nil
}
