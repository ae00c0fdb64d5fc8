package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

const tavilyBaseURL = "https://api.tavily.com"

// SearchTool answers from web search results via the Tavily API. The answer
// is the raw top results; confidence is the best result score.
type SearchTool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxResults int
}

// SearchOption configures a SearchTool.
type SearchOption func(*SearchTool)

// WithSearchAPIKey sets the API key (alternative to TAVILY_API_KEY).
func WithSearchAPIKey(key string) SearchOption {
	return func(s *SearchTool) {
		s.apiKey = key
	}
}

// WithSearchBaseURL points the tool at a different endpoint.
func WithSearchBaseURL(url string) SearchOption {
	return func(s *SearchTool) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithMaxResults sets how many results are folded into the answer.
func WithMaxResults(max int) SearchOption {
	return func(s *SearchTool) {
		if max > 0 {
			s.maxResults = max
		}
	}
}

// NewSearchTool creates a Tavily-backed search tool.
func NewSearchTool(opts ...SearchOption) *SearchTool {
	s := &SearchTool{
		apiKey:     os.Getenv("TAVILY_API_KEY"),
		baseURL:    tavilyBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxResults: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether an API key is configured.
func (s *SearchTool) Available() bool {
	return s.apiKey != ""
}

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Invoke searches for params["query"], falling back to the task goal.
func (s *SearchTool) Invoke(ctx context.Context, task schema.Task, params map[string]string) (Output, error) {
	if !s.Available() {
		return Output{}, Errorf("search API key not configured")
	}
	query := strings.TrimSpace(params[ParamQuery])
	if query == "" {
		query = task.Goal
	}
	if query == "" {
		return Output{}, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}

	body, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "advanced",
		IncludeAnswer: false,
		MaxResults:    s.maxResults,
	})
	if err != nil {
		return Output{}, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, &Error{Message: "search request failed", Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Output{}, &Error{Message: fmt.Sprintf("search API returned status %d", resp.StatusCode), Status: resp.StatusCode}
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Output{}, &Error{Message: "decode search response", Err: err}
	}
	if len(decoded.Results) == 0 {
		return Output{}, Errorf("search returned no results for %q", query)
	}

	var sb strings.Builder
	best := 0.0
	for i, r := range decoded.Results {
		if i >= s.maxResults {
			break
		}
		if r.Score > best {
			best = r.Score
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(r.Content))
		if r.URL != "" {
			sb.WriteString(" (" + r.URL + ")")
		}
	}

	return Output{
		Content:    sb.String(),
		Confidence: schema.ClampUnit(best),
		Metadata: map[string]string{
			"source": "tavily",
			"top":    decoded.Results[0].URL,
		},
	}, nil
}
