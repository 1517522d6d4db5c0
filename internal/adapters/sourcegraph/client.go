// Package sourcegraph implements the code-search adapter used by the
// cross-repository collector.
package sourcegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/incidentwatch/sentinel/internal/adapters/httpx"
	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// Client runs searches against a Sourcegraph instance's GraphQL API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
}

// Config configures the Sourcegraph client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a Sourcegraph client with the standard retry policy.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpx.New("sourcegraph", cfg.Timeout),
		timeout: cfg.Timeout,
	}
}

// SearchRequest scopes one code search.
type SearchRequest struct {
	Pattern      string
	Repositories []string
	ExcludeTests bool
	FilePatterns []string
	MaxResults   int
}

// SearchResult is the aggregated outcome of one search.
type SearchResult struct {
	AffectedRepositories []string
	TotalMatchCount      int
	CriticalPaths        []string
	Matches              []models.CodeSearchMatch
}

const searchQuery = `query CodeSearch($query: String!) {
  search(query: $query, version: V3) {
    results {
      matchCount
      results {
        ... on FileMatch {
          repository { name }
          file { path }
          lineMatches { lineNumber preview }
        }
      }
    }
  }
}`

type graphqlResponse struct {
	Data struct {
		Search struct {
			Results struct {
				MatchCount int `json:"matchCount"`
				Results    []struct {
					Repository struct {
						Name string `json:"name"`
					} `json:"repository"`
					File struct {
						Path string `json:"path"`
					} `json:"file"`
					LineMatches []struct {
						LineNumber int    `json:"lineNumber"`
						Preview    string `json:"preview"`
					} `json:"lineMatches"`
				} `json:"results"`
			} `json:"results"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Search runs the pattern across the given repositories.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.MaxResults <= 0 {
		req.MaxResults = 50
	}

	query := buildQueryString(req)
	body, err := json.Marshal(map[string]interface{}{
		"query":     searchQuery,
		"variables": map[string]string{"query": query},
	})
	if err != nil {
		return nil, senterrors.ExternalAPI("sourcegraph.encode", "sourcegraph", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/.api/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, senterrors.ExternalAPI("sourcegraph.request", "sourcegraph", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, senterrors.ExternalAPI("sourcegraph.request", "sourcegraph", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, senterrors.ExternalAPI("sourcegraph.request", "sourcegraph",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))).
			WithStatusCode(resp.StatusCode)
	}

	var payload graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, senterrors.ExternalAPI("sourcegraph.decode", "sourcegraph", err)
	}
	if len(payload.Errors) > 0 {
		return nil, senterrors.ExternalAPI("sourcegraph.query", "sourcegraph",
			fmt.Errorf("graphql error: %s", payload.Errors[0].Message))
	}

	result := &SearchResult{
		TotalMatchCount: payload.Data.Search.Results.MatchCount,
	}
	repoSet := map[string]struct{}{}
	pathSet := map[string]struct{}{}
	for _, fileMatch := range payload.Data.Search.Results.Results {
		repoSet[fileMatch.Repository.Name] = struct{}{}
		if isCriticalPath(fileMatch.File.Path) {
			pathSet[fileMatch.File.Path] = struct{}{}
		}
		for _, line := range fileMatch.LineMatches {
			if len(result.Matches) >= req.MaxResults {
				break
			}
			result.Matches = append(result.Matches, models.CodeSearchMatch{
				Repository: fileMatch.Repository.Name,
				FilePath:   fileMatch.File.Path,
				LineNumber: line.LineNumber,
				Preview:    line.Preview,
			})
		}
	}
	result.AffectedRepositories = sortedKeys(repoSet)
	result.CriticalPaths = sortedKeys(pathSet)
	return result, nil
}

// buildQueryString assembles the Sourcegraph query syntax for the request.
func buildQueryString(req SearchRequest) string {
	var parts []string
	if len(req.Repositories) > 0 {
		escaped := make([]string, len(req.Repositories))
		for i, repo := range req.Repositories {
			escaped[i] = strings.ReplaceAll(repo, "/", `\/`)
		}
		parts = append(parts, "repo:^("+strings.Join(escaped, "|")+")$")
	}
	if req.ExcludeTests {
		parts = append(parts, `-file:(_test\.|\.test\.|\.spec\.|/tests?/)`)
	}
	for _, filePattern := range req.FilePatterns {
		parts = append(parts, "file:"+filePattern)
	}
	parts = append(parts, fmt.Sprintf("count:%d", req.MaxResults))
	parts = append(parts, req.Pattern)
	return strings.Join(parts, " ")
}

var criticalPathMarkers = []string{"auth", "payment", "billing", "migration", "security", "api/"}

func isCriticalPath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range criticalPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
