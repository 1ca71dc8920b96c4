// Package search provides the document-search collaborator used for
// uploaded files. Ranking is delegated entirely to the search service.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Hit is one ranked search result.
type Hit struct {
	FileID  string  `json:"file_id"`
	Name    string  `json:"name,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Searcher is the interface consumed by the HTTP API.
type Searcher interface {
	Search(ctx context.Context, userID, query string, limit int) ([]Hit, error)
}

// Client is an HTTP client for the search service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new search client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

type searchResponse struct {
	Hits []Hit `json:"hits"`
}

// Search queries the user's uploaded documents.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	body, err := json.Marshal(searchRequest{UserID: userID, Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Hits, nil
}
