package rag

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/llm/tokenizer"
)

// PlannerBand 规划器的一个档位：查询 token 数不超过 MaxTokens 时取 TopK。
type PlannerBand struct {
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	TopK      int `json:"top_k" yaml:"top_k"`
}

// PlannerConfig 自适应规划器配置。Bands 按 MaxTokens 升序匹配，
// 都不命中时取 DefaultTopK。
type PlannerConfig struct {
	Bands       []PlannerBand `json:"bands" yaml:"bands"`
	DefaultTopK int           `json:"default_top_k" yaml:"default_top_k"`
}

// DefaultPlannerConfig 默认档位：短查询取少、长查询取多。
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Bands: []PlannerBand{
			{MaxTokens: 3, TopK: 3},
			{MaxTokens: 8, TopK: 4},
		},
		DefaultTopK: 5,
	}
}

// QueryPlanner 按查询复杂度选择检索扇出。纯函数式，无内部状态。
type QueryPlanner struct {
	cfg       PlannerConfig
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewQueryPlanner 创建规划器。tokenizer 为 nil 时使用启发式估算器。
func NewQueryPlanner(cfg PlannerConfig, tok tokenizer.Tokenizer, logger *zap.Logger) *QueryPlanner {
	if len(cfg.Bands) == 0 && cfg.DefaultTopK <= 0 {
		cfg = DefaultPlannerConfig()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	sort.Slice(cfg.Bands, func(i, j int) bool {
		return cfg.Bands[i].MaxTokens < cfg.Bands[j].MaxTokens
	})
	if tok == nil {
		tok = tokenizer.NewEstimator("planner", 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPlanner{cfg: cfg, tokenizer: tok, logger: logger.With(zap.String("component", "planner"))}
}

// PlanTopK 返回查询应取的结果条数。对 token 数单调不减。
func (p *QueryPlanner) PlanTopK(query string) int {
	tokens, err := p.tokenizer.CountTokens(query)
	if err != nil {
		// 计数失败按最保守的扇出处理
		p.logger.Warn("token count failed, using default top_k", zap.Error(err))
		return p.cfg.DefaultTopK
	}

	for _, band := range p.cfg.Bands {
		if tokens <= band.MaxTokens {
			return band.TopK
		}
	}
	return p.cfg.DefaultTopK
}
