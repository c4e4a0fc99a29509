package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohereRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/rerank", r.URL.Path)

		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "which doc is about go", req.Query)
		assert.Len(t, req.Documents, 2)

		resp := map[string]any{
			"id": "r-1",
			"results": []map[string]any{
				{"index": 1, "relevance_score": 0.92},
				{"index": 0, "relevance_score": 0.13},
			},
			"meta": map[string]any{"billed_units": map[string]int{"search_units": 1}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewCohereProvider(CohereConfig{APIKey: "k", BaseURL: srv.URL})

	resp, err := p.Rerank(context.Background(), &Request{
		Query: "which doc is about go",
		Documents: []Document{
			{Text: "cooking recipes"},
			{Text: "go concurrency patterns"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Index)
	assert.InDelta(t, 0.92, resp.Results[0].RelevanceScore, 1e-9)
}

func TestCohereRerankErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewCohereProvider(CohereConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.Rerank(context.Background(), &Request{Query: "q", Documents: []Document{{Text: "d"}}})
	require.Error(t, err)
}

func TestJinaRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		resp := map[string]any{
			"model": "jina-reranker-v2-base-multilingual",
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.7},
			},
			"usage": map[string]int{"total_tokens": 12},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewJinaProvider(JinaConfig{APIKey: "k", BaseURL: srv.URL})

	resp, err := p.Rerank(context.Background(), &Request{Query: "q", Documents: []Document{{Text: "d"}}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}
