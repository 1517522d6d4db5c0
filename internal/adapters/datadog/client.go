// Package datadog implements the metrics-backend adapter: timeseries
// queries, error-tracking samples and deployment events.
package datadog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/adapters/httpx"
	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// Client queries the Datadog API.
type Client struct {
	baseURL string
	apiKey  string
	appKey  string
	http    *http.Client
	timeout time.Duration
}

// Config configures the Datadog client.
type Config struct {
	BaseURL string
	APIKey  string
	AppKey  string
	Timeout time.Duration
}

// New creates a Datadog client with the standard retry policy.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.datadoghq.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		appKey:  cfg.AppKey,
		http:    httpx.New("datadog", cfg.Timeout),
		timeout: cfg.Timeout,
	}
}

type queryResponse struct {
	Series []struct {
		Metric    string       `json:"metric"`
		PointList [][2]float64 `json:"pointlist"`
	} `json:"series"`
}

// QueryMetrics returns the ordered sample series for a metric query between
// two unix timestamps (seconds).
func (c *Client) QueryMetrics(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.MetricSample, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("from", fmt.Sprintf("%d", fromUnix))
	params.Set("to", fmt.Sprintf("%d", toUnix))

	var resp queryResponse
	if err := c.get(ctx, "/api/v1/query", params, &resp); err != nil {
		return nil, err
	}

	var samples []models.MetricSample
	for _, series := range resp.Series {
		for _, point := range series.PointList {
			samples = append(samples, models.MetricSample{
				// Datadog pointlist timestamps are epoch milliseconds.
				Timestamp: time.UnixMilli(int64(point[0])).UTC(),
				Value:     point[1],
			})
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

type eventsResponse struct {
	Events []struct {
		Title    string   `json:"title"`
		Text     string   `json:"text"`
		DateUnix int64    `json:"date_happened"`
		Tags     []string `json:"tags"`
	} `json:"events"`
}

// QueryErrorTracking returns recent error-tracking events matching the query.
// The event text carries the stack trace when the source provides one.
func (c *Client) QueryErrorTracking(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.TrackedError, error) {
	params := url.Values{}
	params.Set("start", fmt.Sprintf("%d", fromUnix))
	params.Set("end", fmt.Sprintf("%d", toUnix))
	params.Set("tags", query)

	var resp eventsResponse
	if err := c.get(ctx, "/api/v1/events", params, &resp); err != nil {
		return nil, err
	}

	errorsOut := make([]models.TrackedError, 0, len(resp.Events))
	for _, event := range resp.Events {
		errorsOut = append(errorsOut, models.TrackedError{
			Message:    event.Title,
			StackTrace: event.Text,
			Timestamp:  time.Unix(event.DateUnix, 0).UTC(),
		})
	}
	return errorsOut, nil
}

// QueryDeploymentEvents returns deployment markers for the given tags.
// This endpoint is optional: failures are logged and an empty slice returned.
func (c *Client) QueryDeploymentEvents(ctx context.Context, tags []string, fromUnix, toUnix int64) []models.DeploymentEvent {
	params := url.Values{}
	params.Set("start", fmt.Sprintf("%d", fromUnix))
	params.Set("end", fmt.Sprintf("%d", toUnix))
	params.Set("tags", strings.Join(append([]string{"event_type:deployment"}, tags...), ","))

	var resp eventsResponse
	if err := c.get(ctx, "/api/v1/events", params, &resp); err != nil {
		log.Warn().Err(err).Msg("Deployment event query failed, continuing without")
		return nil
	}

	events := make([]models.DeploymentEvent, 0, len(resp.Events))
	for _, event := range resp.Events {
		deployment := models.DeploymentEvent{
			Service:    event.Title,
			DeployedAt: time.Unix(event.DateUnix, 0).UTC(),
		}
		for _, tag := range event.Tags {
			if value, ok := strings.CutPrefix(tag, "commit_sha:"); ok {
				deployment.CommitSHA = value
			}
			if value, ok := strings.CutPrefix(tag, "version:"); ok {
				deployment.Version = value
			}
			if value, ok := strings.CutPrefix(tag, "service:"); ok {
				deployment.Service = value
			}
		}
		events = append(events, deployment)
	}
	return events
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return senterrors.ExternalAPI("datadog.request", "datadog", err)
	}
	req.Header.Set("DD-API-KEY", c.apiKey)
	req.Header.Set("DD-APPLICATION-KEY", c.appKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return senterrors.ExternalAPI("datadog.request", "datadog", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return senterrors.ExternalAPI("datadog.request", "datadog",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithStatusCode(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return senterrors.ExternalAPI("datadog.decode", "datadog", err)
	}
	return nil
}
