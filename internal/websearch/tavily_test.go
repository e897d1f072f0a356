package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

func TestSearchFiltersShortSnippets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.APIKey != "tvly-test" {
			t.Errorf("api_key = %q", req.APIKey)
		}
		if req.SearchDepth != "basic" {
			t.Errorf("search_depth = %q, want basic", req.SearchDepth)
		}
		if req.MaxResults != 3 {
			t.Errorf("max_results = %d, want 3", req.MaxResults)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Good", "content": strings.Repeat("x", 50), "url": "https://a.example"},
				{"title": "Too short", "content": "tiny", "url": "https://b.example"},
				{"title": "Empty", "content": "", "url": "https://c.example"},
			},
		})
	}))
	defer srv.Close()

	c, err := New("tvly-test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Search(context.Background(), "what is the weather", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if got[0].Title != "Good" {
		t.Errorf("Title = %q", got[0].Title)
	}
}

func TestSearchStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantSub string
	}{
		{"quota exceeded", http.StatusTooManyRequests, "quota"},
		{"bad key", http.StatusUnauthorized, "authentication"},
		{"server error", http.StatusInternalServerError, "unexpected status 500"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c, err := New("tvly-test", WithEndpoint(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Search(context.Background(), "query", 3)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q missing %q", err, tc.wantSub)
			}
		})
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	c, err := New("tvly-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Search(context.Background(), "   ", 3); err == nil {
		t.Fatal("expected error for empty query, got nil")
	}
}

func TestFormatForPrompt(t *testing.T) {
	t.Parallel()

	if got := FormatForPrompt(nil, false); got != "No web search results found." {
		t.Errorf("empty results = %q", got)
	}

	results := []Result{
		{Title: "First", Snippet: "snippet one", URL: "https://a.example"},
		{Snippet: "snippet two"},
	}

	got := FormatForPrompt(results, true)
	for _, frag := range []string{
		"Web Search Results:",
		"1. **First**",
		"URL: https://a.example",
		"Content: snippet one",
		"2. **No title**",
		"URL: No URL",
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("output missing %q:\n%s", frag, got)
		}
	}
}
