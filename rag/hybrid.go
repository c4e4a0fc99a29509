package rag

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragcore/llm/rerank"
)

// HybridConfig 混合检索配置。
type HybridConfig struct {
	// 融合权重，归一化后加权求和。
	VectorWeight float64 `json:"vector_weight" yaml:"vector_weight"`
	BM25Weight   float64 `json:"bm25_weight" yaml:"bm25_weight"`

	// UseReranking 为真且注入了 reranker 时对候选做交叉编码器重排。
	UseReranking bool   `json:"use_reranking" yaml:"use_reranking"`
	RerankModel  string `json:"rerank_model,omitempty" yaml:"rerank_model"`

	// CandidateMultiplier 重排时每路取 multiplier*topK 个候选。
	CandidateMultiplier int `json:"candidate_multiplier" yaml:"candidate_multiplier"`

	// MinScore 低于该融合分数的结果被丢弃。
	MinScore float64 `json:"min_score" yaml:"min_score"`
}

// DefaultHybridConfig 默认配置：向量为主、词法为辅。
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorWeight:        0.7,
		BM25Weight:          0.3,
		UseReranking:        false,
		CandidateMultiplier: 3,
		MinScore:            0.0,
	}
}

// HybridRanker 融合 BM25 与向量检索，可选交叉编码器重排。
// 向量后端不可用时降级为纯词法检索并记录日志，不向调用方报错。
type HybridRanker struct {
	cfg      HybridConfig
	lexical  *BM25Index
	vectors  VectorIndex
	reranker rerank.Provider
	recorder Recorder
	logger   *zap.Logger
}

// NewHybridRanker 创建混合检索器。reranker 可为 nil（不重排）。
func NewHybridRanker(cfg HybridConfig, lexical *BM25Index, vectors VectorIndex, reranker rerank.Provider, logger *zap.Logger) *HybridRanker {
	if cfg.VectorWeight <= 0 && cfg.BM25Weight <= 0 {
		cfg.VectorWeight = 0.7
		cfg.BM25Weight = 0.3
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRanker{
		cfg:      cfg,
		lexical:  lexical,
		vectors:  vectors,
		reranker: reranker,
		logger:   logger.With(zap.String("component", "hybrid_ranker")),
	}
}

// candidate 融合过程中的一条候选。
type candidate struct {
	result      SearchResult
	bm25Raw     float64
	vectorRaw   float64
	hasBM25     bool
	hasVector   bool
	bestRank    int // 任一路中的最好原始名次，平分时保序
	hybridScore float64
}

// Search 执行混合检索。queryVector 为空时只走词法路。
func (r *HybridRanker) Search(ctx context.Context, namespace, query string, queryVector []float64, topK int, filter map[string]any) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	candidateK := topK
	if r.shouldRerank() {
		candidateK = topK * r.cfg.CandidateMultiplier
	}

	var lexResults, vecResults []SearchResult
	degraded := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexResults = r.lexical.Search(query, candidateK, filter)
		return nil
	})
	if len(queryVector) > 0 && r.vectors != nil {
		g.Go(func() error {
			results, err := r.vectors.Search(gctx, namespace, queryVector, candidateK, filter)
			if err != nil {
				// 向量路失败不致命，降级为纯词法
				r.logger.Warn("vector search failed, degrading to lexical-only",
					zap.String("namespace", namespace),
					zap.Error(err))
				if r.recorder != nil {
					r.recorder.RecordDegraded()
				}
				degraded = true
				return nil
			}
			vecResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeCandidates(lexResults, vecResults, r.cfg.BM25Weight, r.cfg.VectorWeight)
	if degraded {
		for i := range merged {
			if merged[i].result.Metadata == nil {
				merged[i].result.Metadata = map[string]any{}
			}
			merged[i].result.Metadata["degraded"] = true
		}
	}

	if r.shouldRerank() && len(merged) > 0 {
		// 两路合并后最多 2*candidateK 条，重排只吃融合分最高的 candidateK 条
		if len(merged) > candidateK {
			merged = merged[:candidateK]
		}
		merged = r.rerankCandidates(ctx, query, merged)
	}

	out := make([]SearchResult, 0, topK)
	for _, c := range merged {
		if c.result.Score < r.cfg.MinScore {
			continue
		}
		out = append(out, c.result)
		if len(out) == topK {
			break
		}
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (r *HybridRanker) shouldRerank() bool {
	return r.cfg.UseReranking && r.reranker != nil
}

// mergeCandidates 对两路分数各自做 Min-Max 归一化后加权融合。
// 只出现在一路的块，另一路按 0 分参与。
func mergeCandidates(lexResults, vecResults []SearchResult, bm25Weight, vectorWeight float64) []candidate {
	byID := make(map[string]*candidate)

	add := func(sr SearchResult, isVector bool) {
		c, ok := byID[sr.ChunkID]
		if !ok {
			c = &candidate{result: sr, bestRank: sr.Rank}
			c.result.Score = 0
			byID[sr.ChunkID] = c
		}
		if sr.Rank < c.bestRank {
			c.bestRank = sr.Rank
		}
		if isVector {
			c.vectorRaw = sr.VectorScore
			c.hasVector = true
			c.result.VectorScore = sr.VectorScore
		} else {
			c.bm25Raw = sr.BM25Score
			c.hasBM25 = true
			c.result.BM25Score = sr.BM25Score
		}
	}
	for _, sr := range lexResults {
		add(sr, false)
	}
	for _, sr := range vecResults {
		add(sr, true)
	}

	normBM25 := normalizeLeg(byID, func(c *candidate) (float64, bool) { return c.bm25Raw, c.hasBM25 })
	normVec := normalizeLeg(byID, func(c *candidate) (float64, bool) { return c.vectorRaw, c.hasVector })

	merged := make([]candidate, 0, len(byID))
	for id, c := range byID {
		c.hybridScore = bm25Weight*normBM25[id] + vectorWeight*normVec[id]
		c.result.Score = c.hybridScore
		merged = append(merged, *c)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].hybridScore != merged[j].hybridScore {
			return merged[i].hybridScore > merged[j].hybridScore
		}
		if merged[i].bestRank != merged[j].bestRank {
			return merged[i].bestRank < merged[j].bestRank
		}
		return merged[i].result.ChunkID < merged[j].result.ChunkID
	})
	return merged
}

// normalizeLeg 对一路的原始分数做 Min-Max 归一化。该路只有一个候选或
// 分数全相同时归一化为 1.0，未出现在该路的候选为 0。
func normalizeLeg(byID map[string]*candidate, extract func(*candidate) (float64, bool)) map[string]float64 {
	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	present := 0
	for _, c := range byID {
		score, ok := extract(c)
		if !ok {
			continue
		}
		present++
		if score < minScore {
			minScore = score
		}
		if score > maxScore {
			maxScore = score
		}
	}

	out := make(map[string]float64, len(byID))
	if present == 0 {
		return out
	}

	scoreRange := maxScore - minScore
	for id, c := range byID {
		score, ok := extract(c)
		if !ok {
			continue
		}
		if scoreRange == 0 {
			out[id] = 1.0
		} else {
			out[id] = (score - minScore) / scoreRange
		}
	}
	return out
}

// rerankCandidates 交叉编码器重排。失败时保留融合排序，只记录日志。
func (r *HybridRanker) rerankCandidates(ctx context.Context, query string, merged []candidate) []candidate {
	docs := make([]rerank.Document, len(merged))
	for i, c := range merged {
		docs[i] = rerank.Document{Text: c.result.Text}
	}

	resp, err := r.reranker.Rerank(ctx, &rerank.Request{
		Query:     query,
		Documents: docs,
		Model:     r.cfg.RerankModel,
	})
	if err != nil {
		r.logger.Warn("rerank failed, keeping hybrid order", zap.Error(err))
		return merged
	}

	reordered := make([]candidate, 0, len(merged))
	seen := make(map[int]bool, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(merged) || seen[res.Index] {
			continue
		}
		seen[res.Index] = true
		c := merged[res.Index]
		c.result.RerankScore = res.RelevanceScore
		c.result.Score = res.RelevanceScore
		reordered = append(reordered, c)
	}
	// 不依赖 Provider 的返回顺序，显式按重排分数降序
	sort.SliceStable(reordered, func(i, j int) bool {
		return reordered[i].result.RerankScore > reordered[j].result.RerankScore
	})
	// Provider 漏掉的候选按原顺序补在末尾
	for i, c := range merged {
		if !seen[i] {
			reordered = append(reordered, c)
		}
	}
	return reordered
}
