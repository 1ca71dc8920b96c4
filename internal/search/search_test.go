package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearch(t *testing.T) {
	var gotReq searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(searchResponse{Hits: []Hit{
			{FileID: "f1", Name: "notes.pdf", Snippet: "dinner at 8", Score: 0.92},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	hits, err := client.Search(context.Background(), "u1", "dinner", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if gotReq.UserID != "u1" || gotReq.Query != "dinner" || gotReq.Limit != 5 {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
	if len(hits) != 1 || hits[0].FileID != "f1" || hits[0].Score != 0.92 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	if _, err := client.Search(context.Background(), "u1", "dinner", 5); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
