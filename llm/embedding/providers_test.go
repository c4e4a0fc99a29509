package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragcore/llm"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)

		resp := map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"model": "text-embedding-3-small",
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Dimensions: 3})

	resp, err := p.Embed(context.Background(), &Request{Input: []string{"hello"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 2, resp.Usage.TotalTokens)
	assert.Positive(t, resp.Usage.Cost)
}

func TestOpenAIProviderMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limit"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.Embed(context.Background(), &Request{Input: []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, llm.ErrRateLimited, llm.CodeOf(err))
	assert.True(t, llm.IsRetryable(err))
}

func TestOpenAIProviderMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL})

	_, err := p.Embed(context.Background(), &Request{Input: []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, llm.ErrUnauthorized, llm.CodeOf(err))
	assert.False(t, llm.IsRetryable(err))
}

func TestCohereProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/embed", r.URL.Path)

		var req cohereEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_query", req.InputType)

		resp := map[string]any{
			"id":         "emb-1",
			"embeddings": map[string]any{"float": [][]float64{{1, 2, 3, 4}}},
			"meta":       map[string]any{"billed_units": map[string]int{"input_tokens": 3}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewCohereProvider(CohereConfig{APIKey: "k", BaseURL: srv.URL})

	resp, err := p.Embed(context.Background(), &Request{Input: []string{"q"}, InputType: InputTypeQuery})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestJinaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jinaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "retrieval.passage", req.Task)

		resp := map[string]any{
			"model": "jina-embeddings-v3",
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.5, 0.5}},
			},
			"usage": map[string]int{"total_tokens": 4, "prompt_tokens": 4},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewJinaProvider(JinaConfig{APIKey: "k", BaseURL: srv.URL})

	resp, err := p.Embed(context.Background(), &Request{Input: []string{"doc"}, InputType: InputTypeDocument})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, "jina-embeddings-v3", resp.Model)
}

func TestVectorCacheEviction(t *testing.T) {
	c := newVectorCache(2, 0)
	c.Set("a", Vector{Values: []float64{1}})
	c.Set("b", Vector{Values: []float64{2}})
	c.Set("c", Vector{Values: []float64{3}})

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheKeyDistinguishesModel(t *testing.T) {
	assert.NotEqual(t, cacheKey("m1", "text"), cacheKey("m2", "text"))
	assert.NotEqual(t, cacheKey("m", "a"), cacheKey("m", "b"))
}
