// Package rerank 提供统一的交叉编码器重排序提供者接口与实现。
//
// 混合检索在合并候选后，可将 query-passage 对交给外部 Provider 做
// 第二遍精排；Provider 不可用时混合检索优雅降级到合并分数。
package rerank

import (
	"context"
	"time"
)

// Request 表示重排序请求。
type Request struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"` // 返回前 N 条
}

// Document 表示待重排序的文档。
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// Response 表示重排序响应。
type Response struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Results   []Result  `json:"results"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Result 表示单条重排序结果。
type Result struct {
	Index          int     `json:"index"`           // 输入中的原始下标
	RelevanceScore float64 `json:"relevance_score"` // [0,1] 归一化分数
}

// Usage 表示重排序用量。
type Usage struct {
	SearchUnits int     `json:"search_units,omitempty"`
	TotalTokens int     `json:"total_tokens,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
}

// Provider 定义统一的重排序提供者接口。
type Provider interface {
	// Rerank 按与查询的相关性重排序文档。
	Rerank(ctx context.Context, req *Request) (*Response, error)

	// Name 返回提供者名称。
	Name() string

	// MaxDocuments 返回单次支持的最大文档数。
	MaxDocuments() int
}
