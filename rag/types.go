package rag

import (
	"time"
)

// Document 是待摄入的原始文档。分块后视为不可变，重新分块会整组替换。
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk 是文档的一个可检索片段。
// 不变式：0 <= StartIndex <= EndIndex <= len(document.Content)。
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	StartIndex int            `json:"start_index"`
	EndIndex   int            `json:"end_index"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// 与相邻块重叠的字符数，重建原文时需剔除。
	OverlapWithPrevious int `json:"overlap_with_previous,omitempty"`
	OverlapWithNext     int `json:"overlap_with_next,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SearchResult 是一次检索的单条结果。Score 只在同一策略内可比，
// 融合前需归一化。
type SearchResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	BM25Score  float64        `json:"bm25_score,omitempty"`
	VectorScore float64       `json:"vector_score,omitempty"`
	RerankScore float64       `json:"rerank_score,omitempty"`
	Rank       int            `json:"rank"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Citation 是返回给调用方的引用信息，不含原始内容。
type Citation struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	Category string  `json:"category,omitempty"`
	Page     any     `json:"page,omitempty"`
}

// metaString 从 metadata 取字符串字段，缺失返回空串。
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// copyMetadata 浅拷贝 metadata，保证 chunk 之间互不影响。
func copyMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
