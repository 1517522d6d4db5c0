// Package gitlab implements the source-control adapter: commit listing,
// diffs, and best-effort pipeline and merge-request lookups.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/incidentwatch/sentinel/internal/adapters/httpx"
	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// Client talks to a GitLab instance's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
}

// Config configures the GitLab client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a GitLab client with the standard retry policy.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://gitlab.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpx.New("gitlab", cfg.Timeout),
		timeout: cfg.Timeout,
	}
}

// CommitsRequest scopes a commit listing.
type CommitsRequest struct {
	Repository string
	Since      time.Time
	Until      time.Time
	PerPage    int
}

type commitPayload struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	CreatedAt   time.Time `json:"created_at"`
	Stats       *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats,omitempty"`
}

// GetCommits lists commits in the window, newest first.
func (c *Client) GetCommits(ctx context.Context, req CommitsRequest) ([]models.Commit, error) {
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	params := url.Values{}
	params.Set("since", req.Since.UTC().Format(time.RFC3339))
	params.Set("until", req.Until.UTC().Format(time.RFC3339))
	params.Set("per_page", fmt.Sprintf("%d", req.PerPage))
	params.Set("with_stats", "true")

	var payload []commitPayload
	path := fmt.Sprintf("/api/v4/projects/%s/repository/commits", url.PathEscape(req.Repository))
	if err := c.get(ctx, path, params, &payload); err != nil {
		return nil, err
	}

	commits := make([]models.Commit, 0, len(payload))
	for _, p := range payload {
		commit := models.Commit{
			SHA:        p.ID,
			Message:    p.Message,
			Author:     p.AuthorName,
			Timestamp:  p.CreatedAt.UTC(),
			Repository: req.Repository,
		}
		if p.Stats != nil {
			commit.Additions = p.Stats.Additions
			commit.Deletions = p.Stats.Deletions
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

type diffPayload struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Diff    string `json:"diff"`
}

// CommitDiff is the file list and unified diff text for one commit.
type CommitDiff struct {
	FilesChanged []string
	Diff         string
}

// GetCommitDiff fetches the diff for a commit.
func (c *Client) GetCommitDiff(ctx context.Context, repository, sha string) (*CommitDiff, error) {
	var payload []diffPayload
	path := fmt.Sprintf("/api/v4/projects/%s/repository/commits/%s/diff",
		url.PathEscape(repository), url.PathEscape(sha))
	if err := c.get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}

	result := &CommitDiff{}
	var builder strings.Builder
	for _, d := range payload {
		result.FilesChanged = append(result.FilesChanged, d.NewPath)
		builder.WriteString("--- " + d.OldPath + "\n+++ " + d.NewPath + "\n")
		builder.WriteString(d.Diff)
		builder.WriteString("\n")
	}
	result.Diff = builder.String()
	return result, nil
}

// GetPipelineForCommit returns the latest pipeline for a commit, or nil when
// none exists or the lookup fails. Best-effort by contract.
func (c *Client) GetPipelineForCommit(ctx context.Context, repository, sha string) *models.PipelineStatus {
	var payload []struct {
		Status     string    `json:"status"`
		WebURL     string    `json:"web_url"`
		UpdatedAt  time.Time `json:"updated_at"`
	}
	params := url.Values{}
	params.Set("sha", sha)
	params.Set("per_page", "1")
	path := fmt.Sprintf("/api/v4/projects/%s/pipelines", url.PathEscape(repository))
	if err := c.get(ctx, path, params, &payload); err != nil || len(payload) == 0 {
		return nil
	}
	return &models.PipelineStatus{
		Status:     payload[0].Status,
		WebURL:     payload[0].WebURL,
		FinishedAt: payload[0].UpdatedAt.UTC(),
	}
}

// GetMergeRequestForCommit returns the merge request that introduced a
// commit, or nil when none exists or the lookup fails. Best-effort.
func (c *Client) GetMergeRequestForCommit(ctx context.Context, repository, sha string) *models.MergeRequestRef {
	var payload []struct {
		IID    int    `json:"iid"`
		Title  string `json:"title"`
		WebURL string `json:"web_url"`
		Author struct {
			Name string `json:"name"`
		} `json:"author"`
	}
	path := fmt.Sprintf("/api/v4/projects/%s/repository/commits/%s/merge_requests",
		url.PathEscape(repository), url.PathEscape(sha))
	if err := c.get(ctx, path, nil, &payload); err != nil || len(payload) == 0 {
		return nil
	}
	return &models.MergeRequestRef{
		IID:    payload[0].IID,
		Title:  payload[0].Title,
		WebURL: payload[0].WebURL,
		Author: payload[0].Author.Name,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return senterrors.ExternalAPI("gitlab.request", "gitlab", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return senterrors.ExternalAPI("gitlab.request", "gitlab", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return senterrors.ExternalAPI("gitlab.request", "gitlab",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))).
			WithStatusCode(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return senterrors.ExternalAPI("gitlab.decode", "gitlab", err)
	}
	return nil
}
