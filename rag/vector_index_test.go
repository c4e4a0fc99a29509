package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragcore/llm"
)

func TestCosineSimilarity(t *testing.T) {
	// 自相似为 1
	v := []float64{0.3, 0.4, 0.5}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)

	// 正交为 0
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)

	// 反向为 -1
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 2}, []float64{-1, -2}), 1e-9)

	// 零向量与维度不一致保护
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 1}, []float64{1, 1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestInMemoryVectorIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Text: "about cats", Values: []float64{1, 0, 0}},
		{ChunkID: "c2", DocumentID: "d1", Text: "about dogs", Values: []float64{0.9, 0.1, 0}},
		{ChunkID: "c3", DocumentID: "d2", Text: "about trains", Values: []float64{0, 0, 1}},
	}))

	results, err := idx.Search(ctx, "default", []float64{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "c2", results[1].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestInMemoryVectorIndexNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	require.NoError(t, idx.Upsert(ctx, "tenant-a", []VectorEntry{
		{ChunkID: "a1", DocumentID: "d1", Values: []float64{1, 0}},
	}))
	require.NoError(t, idx.Upsert(ctx, "tenant-b", []VectorEntry{
		{ChunkID: "b1", DocumentID: "d2", Values: []float64{1, 0}},
	}))

	results, err := idx.Search(ctx, "tenant-a", []float64{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ChunkID)

	n, err := idx.Count(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryVectorIndexMetadataFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{1, 0}, Metadata: map[string]any{"category": "faq"}},
		{ChunkID: "c2", DocumentID: "d2", Values: []float64{1, 0}, Metadata: map[string]any{"category": "manual"}},
	}))

	results, err := idx.Search(ctx, "default", []float64{1, 0}, 10, map[string]any{"category": "faq"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestInMemoryVectorIndexUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{1, 0}},
	}))
	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{0, 1}},
	}))

	n, err := idx.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := idx.Search(ctx, "default", []float64{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestInMemoryVectorIndexDeleteDocument(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{1, 0}},
		{ChunkID: "c2", DocumentID: "d1", Values: []float64{0, 1}},
		{ChunkID: "c3", DocumentID: "d2", Values: []float64{1, 1}},
	}))

	require.NoError(t, idx.DeleteDocument(ctx, "default", "d1"))

	n, err := idx.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryVectorIndexRejectsEmptyVector(t *testing.T) {
	ctx := context.Background()
	idx := NewInMemoryVectorIndex(nil)

	err := idx.Upsert(ctx, "default", []VectorEntry{{ChunkID: "c1", DocumentID: "d1"}})
	require.Error(t, err)

	_, err = idx.Search(ctx, "default", nil, 5, nil)
	require.Error(t, err)
}

// ====== Qdrant ======

func TestQdrantIndexUpsertAndSearch(t *testing.T) {
	var gotUpsert map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			json.NewDecoder(r.Body).Decode(&gotUpsert)
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		case r.Method == http.MethodPost && r.URL.Path == "/collections/chunks/points/search":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			// namespace 过滤必须随查询下发
			filter := req["filter"].(map[string]any)
			must := filter["must"].([]any)
			assert.NotEmpty(t, must)

			json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{
					{"id": "uuid-1", "score": 0.91, "payload": map[string]any{
						"chunk_id": "c1", "document_id": "d1", "text": "hello",
						"namespace": "default", "metadata": map[string]any{"category": "faq"},
					}},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	idx := NewQdrantIndex(QdrantConfig{BaseURL: srv.URL, Collection: "chunks"}, nil)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Text: "hello", Values: []float64{0.1, 0.2}},
	}))
	points := gotUpsert["points"].([]any)
	require.Len(t, points, 1)

	results, err := idx.Search(ctx, "default", []float64{0.1, 0.2}, 5, map[string]any{"category": "faq"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "hello", results[0].Text)
	assert.InDelta(t, 0.91, results[0].VectorScore, 1e-9)
}

func TestQdrantIndexUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srvURL := srv.URL
	srv.Close() // 连接被拒绝

	idx := NewQdrantIndex(QdrantConfig{BaseURL: srvURL, Collection: "chunks"}, nil)
	_, err := idx.Search(context.Background(), "default", []float64{0.1}, 5, nil)
	require.Error(t, err)
	assert.Equal(t, llm.ErrIndexUnavailable, llm.CodeOf(err))
}

func TestQdrantIndexServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	idx := NewQdrantIndex(QdrantConfig{BaseURL: srv.URL, Collection: "chunks"}, nil)
	err := idx.Upsert(context.Background(), "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{0.1}},
	})
	require.Error(t, err)
	var e *llm.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, llm.ErrIndexUnavailable, e.Code)
	assert.True(t, e.Retryable)
}

func TestQdrantIndexDimensionMismatch(t *testing.T) {
	idx := NewQdrantIndex(QdrantConfig{BaseURL: "http://unused", Collection: "chunks"}, nil)
	err := idx.Upsert(context.Background(), "default", []VectorEntry{
		{ChunkID: "c1", DocumentID: "d1", Values: []float64{0.1, 0.2}},
		{ChunkID: "c2", DocumentID: "d1", Values: []float64{0.1}},
	})
	require.Error(t, err)
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
}

func TestQdrantIndexAutoCreateCollectionConflict(t *testing.T) {
	created := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			created++
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}))
	defer srv.Close()

	idx := NewQdrantIndex(QdrantConfig{BaseURL: srv.URL, Collection: "chunks", AutoCreateCollection: true}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, idx.Upsert(ctx, "default", []VectorEntry{
			{ChunkID: "c1", DocumentID: "d1", Values: []float64{0.1}},
		}))
	}
	// 409 视为已存在，且只探测一次
	assert.Equal(t, 1, created)
}
