package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragcore/llm"
	"github.com/BaSui01/ragcore/llm/rerank"
)

// failingVectorIndex 向量后端不可用的替身。
type failingVectorIndex struct{}

func (f *failingVectorIndex) Upsert(ctx context.Context, ns string, entries []VectorEntry) error {
	return &llm.Error{Code: llm.ErrIndexUnavailable, Retryable: true}
}
func (f *failingVectorIndex) Search(ctx context.Context, ns string, q []float64, topK int, filter map[string]any) ([]SearchResult, error) {
	return nil, &llm.Error{Code: llm.ErrIndexUnavailable, Message: "connection refused", Retryable: true}
}
func (f *failingVectorIndex) DeleteDocument(ctx context.Context, ns, docID string) error { return nil }
func (f *failingVectorIndex) Count(ctx context.Context, ns string) (int, error)          { return 0, nil }
func (f *failingVectorIndex) Close() error                                               { return nil }

// fakeReranker 按预设顺序返回结果。
type fakeReranker struct {
	order    []int           // 返回的 Index 顺序
	scores   map[int]float64 // 按 Index 覆盖分数，缺省按返回位置递减
	fail     bool
	calls    int
	docsSeen int             // 最近一次收到的候选数
}

func (f *fakeReranker) Rerank(ctx context.Context, req *rerank.Request) (*rerank.Response, error) {
	f.calls++
	f.docsSeen = len(req.Documents)
	if f.fail {
		return nil, fmt.Errorf("reranker down")
	}
	results := make([]rerank.Result, 0, len(f.order))
	for pos, idx := range f.order {
		if idx >= len(req.Documents) {
			continue
		}
		score := 1.0 - float64(pos)*0.1
		if s, ok := f.scores[idx]; ok {
			score = s
		}
		results = append(results, rerank.Result{Index: idx, RelevanceScore: score})
	}
	return &rerank.Response{Results: results}, nil
}
func (f *fakeReranker) Name() string      { return "fake" }
func (f *fakeReranker) MaxDocuments() int { return 100 }

func hybridFixture(t *testing.T, vectors VectorIndex, reranker rerank.Provider, cfg HybridConfig) *HybridRanker {
	t.Helper()

	lexical := NewBM25Index(DefaultLexicalConfig(), nil)
	lexical.Index([]Chunk{
		{ChunkID: "c1", DocumentID: "d1", Content: "python decorators explained in detail"},
		{ChunkID: "c2", DocumentID: "d2", Content: "javascript closures explained in detail"},
		{ChunkID: "c3", DocumentID: "d3", Content: "python generators and iterators"},
	})

	if vectors == nil {
		mem := NewInMemoryVectorIndex(nil)
		require.NoError(t, mem.Upsert(context.Background(), "default", []VectorEntry{
			{ChunkID: "c1", DocumentID: "d1", Text: "python decorators explained in detail", Values: []float64{1, 0, 0}},
			{ChunkID: "c2", DocumentID: "d2", Text: "javascript closures explained in detail", Values: []float64{0, 1, 0}},
			{ChunkID: "c3", DocumentID: "d3", Text: "python generators and iterators", Values: []float64{0.8, 0.2, 0}},
		}))
		vectors = mem
	}

	return NewHybridRanker(cfg, lexical, vectors, reranker, nil)
}

func TestHybridSearchMergesBothLegs(t *testing.T) {
	r := hybridFixture(t, nil, nil, DefaultHybridConfig())

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// 两路都最高的块排第一
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Greater(t, results[0].BM25Score, 0.0)
	assert.Greater(t, results[0].VectorScore, 0.0)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestHybridSearchTopKCap(t *testing.T) {
	r := hybridFixture(t, nil, nil, DefaultHybridConfig())

	results, err := r.Search(context.Background(), "default", "explained detail python javascript", []float64{0.5, 0.5, 0}, 2, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}

func TestHybridSearchDegradesToLexical(t *testing.T) {
	r := hybridFixture(t, &failingVectorIndex{}, nil, DefaultHybridConfig())

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, res := range results {
		assert.Equal(t, true, res.Metadata["degraded"])
		assert.Equal(t, 0.0, res.VectorScore)
	}
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestHybridSearchLexicalOnlyWithoutQueryVector(t *testing.T) {
	r := hybridFixture(t, nil, nil, DefaultHybridConfig())

	results, err := r.Search(context.Background(), "default", "javascript closures", nil, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c2", results[0].ChunkID)
}

func TestHybridSearchRerank(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.UseReranking = true
	rr := &fakeReranker{order: []int{1, 0, 2}}
	r := hybridFixture(t, nil, rr, cfg)

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 1, rr.calls)

	// 重排分数覆盖融合分数
	assert.InDelta(t, 1.0, results[0].RerankScore, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestHybridSearchRerankSortsByScoreNotArrivalOrder(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.UseReranking = true
	// 返回顺序与分数高低相反，最终排序只能依据分数
	rr := &fakeReranker{order: []int{0, 1, 2}, scores: map[int]float64{0: 0.2, 1: 0.9, 2: 0.5}}
	r := hybridFixture(t, nil, rr, cfg)

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.InDelta(t, 0.9, results[0].RerankScore, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].RerankScore, results[i].RerankScore)
	}
}

func TestHybridSearchRerankCandidateCap(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.UseReranking = true
	cfg.CandidateMultiplier = 1
	rr := &fakeReranker{order: []int{0, 1}}
	r := hybridFixture(t, nil, rr, cfg)

	// 两路各取 candidateK 条，合并去重后超过 candidateK，
	// 送入重排的仍只有融合分最高的 candidateK 条
	_, err := r.Search(context.Background(), "default", "explained detail python javascript", []float64{0.5, 0.5, 0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.calls)
	assert.LessOrEqual(t, rr.docsSeen, 2)
}

func TestHybridSearchRerankFailureKeepsHybridOrder(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.UseReranking = true
	rr := &fakeReranker{fail: true}
	r := hybridFixture(t, nil, rr, cfg)

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, 0.0, results[0].RerankScore)
}

func TestHybridSearchMinScoreFilter(t *testing.T) {
	cfg := DefaultHybridConfig()
	cfg.MinScore = 0.99
	r := hybridFixture(t, nil, nil, cfg)

	results, err := r.Search(context.Background(), "default", "python decorators", []float64{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.99)
	}
}

func TestHybridSearchZeroTopK(t *testing.T) {
	r := hybridFixture(t, nil, nil, DefaultHybridConfig())

	results, err := r.Search(context.Background(), "default", "python", []float64{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMergeCandidatesDeterministicTieBreak(t *testing.T) {
	lex := []SearchResult{
		{ChunkID: "b", BM25Score: 2.0, Rank: 1},
		{ChunkID: "a", BM25Score: 2.0, Rank: 2},
	}

	for i := 0; i < 5; i++ {
		merged := mergeCandidates(lex, nil, 0.3, 0.7)
		require.Len(t, merged, 2)
		// 分数相同时按原始名次
		assert.Equal(t, "b", merged[0].result.ChunkID)
	}
}
