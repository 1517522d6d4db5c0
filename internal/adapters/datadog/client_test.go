package datadog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-api-key",
		AppKey:  "test-app-key",
		Timeout: 5 * time.Second,
	})
	return client, server
}

func TestQueryMetricsParsesAndSortsPointlist(t *testing.T) {
	var gotQuery, gotAPIKey string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotAPIKey = r.Header.Get("DD-API-KEY")
		w.Header().Set("Content-Type", "application/json")
		// Points deliberately out of order; timestamps are epoch millis.
		w.Write([]byte(`{"series": [{"metric": "checkout.latency",
			"pointlist": [[1756036800000, 310.5], [1756036740000, 295.0]]}]}`))
	})
	defer server.Close()

	samples, err := client.QueryMetrics(context.Background(), "avg:checkout.latency{env:prod}", 1756036700, 1756036900)
	require.NoError(t, err)

	assert.Equal(t, "avg:checkout.latency{env:prod}", gotQuery)
	assert.Equal(t, "test-api-key", gotAPIKey)

	require.Len(t, samples, 2)
	assert.True(t, samples[0].Timestamp.Before(samples[1].Timestamp), "samples sorted ascending")
	assert.Equal(t, 295.0, samples[0].Value)
	assert.Equal(t, 310.5, samples[1].Value)
	assert.Equal(t, time.Unix(1756036740, 0).UTC(), samples[0].Timestamp)
}

func TestQueryMetricsEmptySeries(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"series": []}`))
	})
	defer server.Close()

	samples, err := client.QueryMetrics(context.Background(), "q", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestQueryMetricsHTTPErrorSurfaces(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": ["forbidden"]}`, http.StatusForbidden)
	})
	defer server.Close()

	_, err := client.QueryMetrics(context.Background(), "q", 0, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestQueryErrorTracking(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "service:checkout", r.URL.Query().Get("tags"))
		w.Write([]byte(`{"events": [
			{"title": "TimeoutError: boom", "text": "at x (a.ts:1:1)", "date_happened": 1756036800}
		]}`))
	})
	defer server.Close()

	errs, err := client.QueryErrorTracking(context.Background(), "service:checkout", 0, 1756036900)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "TimeoutError: boom", errs[0].Message)
	assert.Equal(t, "at x (a.ts:1:1)", errs[0].StackTrace)
	assert.Equal(t, time.Unix(1756036800, 0).UTC(), errs[0].Timestamp)
}

func TestQueryDeploymentEventsParsesTags(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		tags := r.URL.Query().Get("tags")
		assert.Contains(t, tags, "event_type:deployment")
		assert.Contains(t, tags, "env:prod")
		w.Write([]byte(`{"events": [
			{"title": "Deployed checkout", "date_happened": 1756036800,
			 "tags": ["service:checkout", "commit_sha:deadbeef", "version:v1.42.0"]}
		]}`))
	})
	defer server.Close()

	events := client.QueryDeploymentEvents(context.Background(), []string{"env:prod"}, 0, 1756036900)
	require.Len(t, events, 1)
	assert.Equal(t, "checkout", events[0].Service, "service tag overrides the event title")
	assert.Equal(t, "deadbeef", events[0].CommitSHA)
	assert.Equal(t, "v1.42.0", events[0].Version)
	assert.Equal(t, time.Unix(1756036800, 0).UTC(), events[0].DeployedAt)
}

func TestQueryDeploymentEventsFailureReturnsNil(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})
	defer server.Close()

	events := client.QueryDeploymentEvents(context.Background(), nil, 0, 100)
	assert.Nil(t, events, "deployment lookup is best-effort")
}
