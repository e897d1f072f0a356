// Package websearch provides web search via the Tavily API. Search results are
// injected into the LLM prompt when a client enables web search for a query.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	searchEndpoint = "https://api.tavily.com/search"

	defaultMaxResults = 3

	// minSnippetLen filters out results whose content is too short to be
	// useful as LLM context.
	minSnippetLen = 20
)

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithEndpoint overrides the Tavily search endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a Tavily-backed web search client.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// New creates a Tavily Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("websearch: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		endpoint:   searchEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// searchRequest is the Tavily search request payload.
type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

// searchResponse is the subset of the Tavily response we consume.
type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Search queries Tavily and returns up to maxResults relevant hits. Results
// with near-empty content are dropped. maxResults <= 0 uses the default of 3.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("websearch: query must not be empty")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	body, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: search HTTP: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, errors.New("websearch: quota exceeded, check Tavily billing and rate limits")
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.New("websearch: authentication failed, check the Tavily API key")
	default:
		return nil, fmt.Errorf("websearch: unexpected status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	results := make([]Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		if len(strings.TrimSpace(r.Content)) <= minSnippetLen {
			continue
		}
		results = append(results, Result{
			Title:   r.Title,
			Snippet: r.Content,
			URL:     r.URL,
		})
	}
	return results, nil
}

// FormatForPrompt renders search results as a text block for inclusion in an
// LLM prompt. showURLs adds the source URL under each result.
func FormatForPrompt(results []Result, showURLs bool) string {
	if len(results) == 0 {
		return "No web search results found."
	}

	var b strings.Builder
	b.WriteString("\n\nWeb Search Results:\n")
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "\n%d. **%s**\n", i+1, title)
		if showURLs {
			url := r.URL
			if url == "" {
				url = "No URL"
			}
			fmt.Fprintf(&b, "   URL: %s\n", url)
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = "No content available"
		}
		fmt.Fprintf(&b, "   Content: %s\n", snippet)
	}
	return b.String()
}
