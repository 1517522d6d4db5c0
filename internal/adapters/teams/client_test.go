package teams

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
)

const cardContent = `{"@type": "MessageCard", "summary": "test"}`

func TestSendMessagePrefersExplicitWebhook(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{DefaultWebhookURL: "http://unused.invalid"})
	result, err := client.SendMessage(context.Background(), Message{
		Content:    json.RawMessage(cardContent),
		WebhookURL: server.URL,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)
	assert.JSONEq(t, cardContent, gotBody)
}

func TestSendMessageFallsBackToDefaultWebhook(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{DefaultWebhookURL: server.URL})
	result, err := client.SendMessage(context.Background(), Message{Content: json.RawMessage(cardContent)})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, hits)
}

func TestSendMessageNoRouteConfigured(t *testing.T) {
	client := New(Config{})
	_, err := client.SendMessage(context.Background(), Message{Content: json.RawMessage(cardContent)})
	require.Error(t, err)

	var appErr *senterrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, senterrors.CodeConfiguration, appErr.Code)
}

func TestSendWebhook4xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(Config{})
	_, err := client.SendMessage(context.Background(), Message{
		Content:    json.RawMessage(cardContent),
		WebhookURL: server.URL,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSendChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/teams/team-1/channels/chan-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))

		var payload struct {
			Body struct {
				ContentType string `json:"contentType"`
				Content     string `json:"content"`
			} `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "html", payload.Body.ContentType)
		assert.JSONEq(t, cardContent, payload.Body.Content)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "msg-42"}`))
	}))
	defer server.Close()

	client := New(Config{GraphToken: "graph-token", GraphBaseURL: server.URL})
	result, err := client.SendMessage(context.Background(), Message{
		Content:   json.RawMessage(cardContent),
		TeamID:    "team-1",
		ChannelID: "chan-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "msg-42", result.MessageID)
}

func TestSendChannelUnauthorizedIsAuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(Config{GraphToken: "expired", GraphBaseURL: server.URL})
	_, err := client.SendMessage(context.Background(), Message{
		Content:   json.RawMessage(cardContent),
		TeamID:    "team-1",
		ChannelID: "chan-1",
	})
	require.Error(t, err)

	var appErr *senterrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, senterrors.CodeAuthentication, appErr.Code)
}
