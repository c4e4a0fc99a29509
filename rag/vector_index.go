package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorEntry 向量索引中的一条记录。
type VectorEntry struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	Values     []float64      `json:"values"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// VectorIndex 向量近邻检索接口。namespace 之间完全隔离。
type VectorIndex interface {
	// Upsert 写入或覆盖记录（按 ChunkID 去重）。
	Upsert(ctx context.Context, namespace string, entries []VectorEntry) error

	// Search 返回与查询向量余弦相似度最高的前 topK 条，
	// filter 非空时只保留 metadata 完全匹配的记录。
	Search(ctx context.Context, namespace string, query []float64, topK int, filter map[string]any) ([]SearchResult, error)

	// DeleteDocument 删除一个文档的全部记录。
	DeleteDocument(ctx context.Context, namespace, documentID string) error

	// Count 返回命名空间内的记录数。
	Count(ctx context.Context, namespace string) (int, error)

	Close() error
}

// CosineSimilarity 余弦相似度。维度不一致或任一范数接近零时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	const epsilon = 1e-10
	if normA < epsilon || normB < epsilon {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ====== 内存实现 ======

// InMemoryVectorIndex 内存向量索引，适合测试与中小规模语料。
// 读多写少，粗粒度 RWMutex 足够。
type InMemoryVectorIndex struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*VectorEntry // namespace → chunkID → entry
	logger     *zap.Logger
}

// NewInMemoryVectorIndex 创建空索引。
func NewInMemoryVectorIndex(logger *zap.Logger) *InMemoryVectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorIndex{
		namespaces: make(map[string]map[string]*VectorEntry),
		logger:     logger.With(zap.String("component", "vector_index")),
	}
}

// Upsert 写入记录，同 ChunkID 覆盖。
func (s *InMemoryVectorIndex) Upsert(ctx context.Context, namespace string, entries []VectorEntry) error {
	for _, e := range entries {
		if len(e.Values) == 0 {
			return fmt.Errorf("entry %s has no vector values", e.ChunkID)
		}
		if e.ChunkID == "" {
			return fmt.Errorf("entry with empty chunk id")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]*VectorEntry)
		s.namespaces[namespace] = ns
	}

	for i := range entries {
		e := entries[i]
		ns[e.ChunkID] = &e
	}

	s.logger.Debug("vectors upserted",
		zap.String("namespace", namespace),
		zap.Int("count", len(entries)),
		zap.Int("total", len(ns)))
	return nil
}

// Search 全量扫描计算余弦相似度，按分数降序返回前 topK 条。
func (s *InMemoryVectorIndex) Search(ctx context.Context, namespace string, query []float64, topK int, filter map[string]any) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	if len(ns) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(ns))
	for _, e := range ns {
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		score := CosineSimilarity(query, e.Values)
		results = append(results, SearchResult{
			ChunkID:     e.ChunkID,
			DocumentID:  e.DocumentID,
			Text:        e.Text,
			Score:       score,
			VectorScore: score,
			Metadata:    e.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// DeleteDocument 删除一个文档的全部记录。
func (s *InMemoryVectorIndex) DeleteDocument(ctx context.Context, namespace, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	deleted := 0
	for id, e := range ns {
		if e.DocumentID == documentID {
			delete(ns, id)
			deleted++
		}
	}

	s.logger.Debug("vectors deleted",
		zap.String("namespace", namespace),
		zap.String("document_id", documentID),
		zap.Int("deleted", deleted))
	return nil
}

// Count 返回命名空间内的记录数。
func (s *InMemoryVectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]), nil
}

// Close 释放全部驻留数据。
func (s *InMemoryVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = make(map[string]map[string]*VectorEntry)
	return nil
}
