// Package teams delivers incident notifications to Microsoft Teams.
// Webhook delivery is preferred when a URL is present; otherwise the
// authenticated channel path is used; otherwise the configured default
// webhook. Network errors and 5xx responses are retried, 4xx never.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/adapters/httpx"
	senterrors "github.com/incidentwatch/sentinel/internal/errors"
)

// Client sends messages to Teams.
type Client struct {
	defaultWebhookURL string
	graphToken        string
	graphBaseURL      string
	http              *http.Client
}

// Config configures the Teams client.
type Config struct {
	DefaultWebhookURL string
	GraphToken        string // for authenticated channel delivery
	GraphBaseURL      string
	Timeout           time.Duration
}

// New creates a Teams client with the standard retry policy.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.microsoft.com/v1.0"
	}
	return &Client{
		defaultWebhookURL: cfg.DefaultWebhookURL,
		graphToken:        cfg.GraphToken,
		graphBaseURL:      strings.TrimRight(cfg.GraphBaseURL, "/"),
		http:              httpx.New("teams", cfg.Timeout),
	}
}

// Message is one outgoing notification. Content must already be a
// JSON-serializable card payload.
type Message struct {
	Content    json.RawMessage
	WebhookURL string
	TeamID     string
	ChannelID  string
}

// SendResult reports the delivery outcome.
type SendResult struct {
	Success   bool
	MessageID string
}

// SendMessage delivers the message via the first applicable route.
func (c *Client) SendMessage(ctx context.Context, msg Message) (*SendResult, error) {
	switch {
	case msg.WebhookURL != "":
		return c.sendWebhook(ctx, msg.WebhookURL, msg.Content)
	case msg.TeamID != "" && msg.ChannelID != "":
		return c.sendChannel(ctx, msg.TeamID, msg.ChannelID, msg.Content)
	case c.defaultWebhookURL != "":
		return c.sendWebhook(ctx, c.defaultWebhookURL, msg.Content)
	default:
		return nil, senterrors.Configuration("teams.send",
			fmt.Errorf("no webhook URL or channel configured"))
	}
}

func (c *Client) sendWebhook(ctx context.Context, webhookURL string, content json.RawMessage) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(content))
	if err != nil {
		return nil, senterrors.ExternalAPI("teams.webhook", "teams", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, senterrors.ExternalAPI("teams.webhook", "teams", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, senterrors.ExternalAPI("teams.webhook", "teams",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithStatusCode(resp.StatusCode)
	}

	log.Debug().Msg("Teams webhook delivered")
	return &SendResult{Success: true, MessageID: uuid.NewString()}, nil
}

func (c *Client) sendChannel(ctx context.Context, teamID, channelID string, content json.RawMessage) (*SendResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"body": map[string]interface{}{
			"contentType": "html",
			"content":     string(content),
		},
	})
	if err != nil {
		return nil, senterrors.ExternalAPI("teams.channel", "teams", err)
	}

	endpoint := fmt.Sprintf("%s/teams/%s/channels/%s/messages", c.graphBaseURL, teamID, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, senterrors.ExternalAPI("teams.channel", "teams", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.graphToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, senterrors.ExternalAPI("teams.channel", "teams", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		apiErr := senterrors.ExternalAPI("teams.channel", "teams",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithStatusCode(resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			apiErr.Code = senterrors.CodeAuthentication
		}
		return nil, apiErr
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		// Delivery succeeded even if the response body is unusable.
		return &SendResult{Success: true}, nil
	}
	return &SendResult{Success: true, MessageID: created.ID}, nil
}
