// Package embedding 提供统一的嵌入提供者接口、多家 Provider 实现，
// 以及带缓存/限流/重试/降级链的 Gateway。
package embedding

import (
	"context"
	"time"
)

// Request 表示生成嵌入的请求。
type Request struct {
	Input      []string  `json:"input"`                // 待嵌入文本
	Model      string    `json:"model,omitempty"`      // 模型；空则用 Provider 默认
	Dimensions int       `json:"dimensions,omitempty"` // 输出维度（支持 Matryoshka 的模型）
	InputType  InputType `json:"input_type,omitempty"` // query / document
	Truncate   bool      `json:"truncate,omitempty"`   // 超长输入自动截断
}

// InputType 指定嵌入优化的输入类型。
type InputType string

const (
	InputTypeQuery    InputType = "query"    // 检索查询
	InputTypeDocument InputType = "document" // 待索引文档
)

// Response 表示嵌入请求的响应。
type Response struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Embeddings []Data    `json:"embeddings"`
	Usage      Usage     `json:"usage"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Data 表示单个嵌入结果。
type Data struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Usage 表示嵌入请求的 token 用量。
type Usage struct {
	PromptTokens int     `json:"prompt_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost,omitempty"` // USD
}

// Vector 是网关对外返回的定长嵌入向量。
// 不变式：len(Values) == Dimensions，且向量不得全零。
type Vector struct {
	ModelID    string    `json:"model_id"`
	Dimensions int       `json:"dimensions"`
	Values     []float64 `json:"values"`
	TokenCount int       `json:"token_count"`
	Cached     bool      `json:"cached"`
}

// IsZero 判断向量是否退化（全零）。
func (v *Vector) IsZero() bool {
	for _, x := range v.Values {
		if x != 0 {
			return false
		}
	}
	return true
}

// Provider 定义统一的嵌入提供者接口。
type Provider interface {
	// Embed 为给定输入生成嵌入。
	Embed(ctx context.Context, req *Request) (*Response, error)

	// Name 返回提供者名称。
	Name() string

	// Dimensions 返回默认嵌入维度。
	Dimensions() int

	// MaxBatchSize 返回支持的最大批量大小。
	MaxBatchSize() int
}

// UsageEvent 在每次成功生成后发出，用于外部成本核算。
// 这是可观测性副作用，不影响正确性。
type UsageEvent struct {
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Tokens        int       `json:"tokens"`
	EstimatedCost float64   `json:"estimated_cost"` // USD
	At            time.Time `json:"at"`
}

// BatchItem 是批量嵌入的单项结果：Vector 与 Err 恰有一个非空。
type BatchItem struct {
	Index  int     `json:"index"`
	Vector *Vector `json:"vector,omitempty"`
	Err    error   `json:"-"`
}
