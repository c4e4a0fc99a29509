package embedding

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ragcore/llm"
	"github.com/BaSui01/ragcore/llm/retry"
)

// GatewayConfig 配置嵌入网关。
type GatewayConfig struct {
	// RequestsPerSecond 是所有调用方共享的令牌桶速率。
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`

	// MaxInputChars 是单条输入的最大字符数（超出即校验失败）。
	MaxInputChars int `json:"max_input_chars" yaml:"max_input_chars"`

	// CacheSize / CacheTTL 配置内容寻址缓存。
	CacheSize int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// RequestTimeout 是单次 Provider 调用的超时；超时按瞬时错误重试。
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Retry 为每个 Provider 内部的重试策略。
	Retry *retry.Policy `json:"-" yaml:"-"`
}

// DefaultGatewayConfig 返回默认网关配置。
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		MaxInputChars:     32000,
		CacheSize:         4096,
		CacheTTL:          time.Hour,
		RequestTimeout:    30 * time.Second,
	}
}

// Recorder 接收网关的可观测事件；nil 实现表示不采集。
type Recorder interface {
	EmbeddingRequest(provider string, cached bool, err error)
	EmbeddingUsage(provider, model string, tokens int, cost float64)
}

// Gateway 将文本转换为定长向量：校验 → 缓存 → 限流 → Provider 降级链。
// 调用方只会看到成功或类型化的终态错误，原始 Provider 错误不外泄。
type Gateway struct {
	providers []Provider
	cfg       GatewayConfig
	limiter   *rate.Limiter
	cache     *vectorCache
	retryer   retry.Retryer
	usageHook func(UsageEvent)
	recorder  Recorder
	logger    *zap.Logger
}

// GatewayOption 配置 Gateway 的可选项。
type GatewayOption func(*Gateway)

// WithUsageHook 注册成本事件回调。
func WithUsageHook(hook func(UsageEvent)) GatewayOption {
	return func(g *Gateway) { g.usageHook = hook }
}

// WithRecorder 注册指标采集器。
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// NewGateway 创建嵌入网关。providers 按降级顺序排列，首个为主 Provider。
func NewGateway(providers []Provider, cfg GatewayConfig, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond) * 2
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 32000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	if policy.Retryable == nil {
		policy.Retryable = llm.IsRetryable
	}

	g := &Gateway{
		providers: providers,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:     newVectorCache(cfg.CacheSize, cfg.CacheTTL),
		retryer:   retry.New(policy, logger),
		logger:    logger.With(zap.String("component", "embedding_gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed 为单条文本生成嵌入向量。
func (g *Gateway) Embed(ctx context.Context, text, model string) (*Vector, error) {
	if err := g.validate(text); err != nil {
		return nil, err
	}

	key := cacheKey(model, text)
	if v, ok := g.cache.Get(key); ok {
		if g.recorder != nil {
			g.recorder.EmbeddingRequest("cache", true, nil)
		}
		return v, nil
	}

	resp, err := g.callChain(ctx, &Request{
		Input:     []string{text},
		Model:     model,
		InputType: InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "provider returned no embeddings", Retryable: false, Provider: resp.Provider}
	}

	v := Vector{
		ModelID:    resp.Model,
		Dimensions: len(resp.Embeddings[0].Embedding),
		Values:     resp.Embeddings[0].Embedding,
		TokenCount: resp.Usage.TotalTokens,
	}
	if v.IsZero() {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "provider returned degenerate all-zero embedding", Retryable: false, Provider: resp.Provider}
	}

	g.cache.Set(key, v)
	out := v
	return &out, nil
}

// EmbedBatch 为多条文本生成嵌入，输出顺序与输入一致。
// 单项失败记录在对应 BatchItem.Err 中，不影响其余项。
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string, model string) ([]BatchItem, error) {
	items := make([]BatchItem, len(texts))
	for i := range items {
		items[i].Index = i
	}

	// 第一遍：校验 + 缓存命中。pending 记录待请求项的原始下标。
	var pending []int
	for i, text := range texts {
		if err := g.validate(text); err != nil {
			items[i].Err = err
			continue
		}
		if v, ok := g.cache.Get(cacheKey(model, text)); ok {
			items[i].Vector = v
			if g.recorder != nil {
				g.recorder.EmbeddingRequest("cache", true, nil)
			}
			continue
		}
		pending = append(pending, i)
	}

	// 第二遍：按 Provider 最大批量分组请求；组失败只影响组内项。
	maxBatch := g.maxBatchSize()
	for start := 0; start < len(pending); start += maxBatch {
		end := start + maxBatch
		if end > len(pending) {
			end = len(pending)
		}
		group := pending[start:end]

		input := make([]string, len(group))
		for j, idx := range group {
			input[j] = texts[idx]
		}

		resp, err := g.callChain(ctx, &Request{
			Input:     input,
			Model:     model,
			InputType: InputTypeDocument,
		})
		if err != nil {
			for _, idx := range group {
				items[idx].Err = err
			}
			continue
		}

		perToken := 0
		if len(resp.Embeddings) > 0 {
			perToken = resp.Usage.TotalTokens / len(resp.Embeddings)
		}
		for j, idx := range group {
			if j >= len(resp.Embeddings) {
				items[idx].Err = &llm.Error{Code: llm.ErrUpstreamError, Message: "provider returned short batch", Provider: resp.Provider}
				continue
			}
			v := Vector{
				ModelID:    resp.Model,
				Dimensions: len(resp.Embeddings[j].Embedding),
				Values:     resp.Embeddings[j].Embedding,
				TokenCount: perToken,
			}
			if v.IsZero() {
				items[idx].Err = &llm.Error{Code: llm.ErrUpstreamError, Message: "degenerate all-zero embedding", Provider: resp.Provider}
				continue
			}
			g.cache.Set(cacheKey(model, texts[idx]), v)
			out := v
			items[idx].Vector = &out
		}
	}

	return items, nil
}

// CacheLen 返回缓存条目数（测试与运维用）。
func (g *Gateway) CacheLen() int { return g.cache.Len() }

// validate 校验输入：非空且不超过最大长度。校验错误永不重试。
func (g *Gateway) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return llm.Invalid("embedding input is empty")
	}
	if len(text) > g.cfg.MaxInputChars {
		return llm.Invalid("embedding input exceeds max length")
	}
	return nil
}

func (g *Gateway) maxBatchSize() int {
	if len(g.providers) == 0 {
		return 1
	}
	n := g.providers[0].MaxBatchSize()
	if n <= 0 {
		return 1
	}
	return n
}

// callChain 执行 限流 → 有序 Provider 链（每个带重试）。
// 全部失败时返回终态 ErrProviderExhausted。
func (g *Gateway) callChain(ctx context.Context, req *Request) (*Response, error) {
	if len(g.providers) == 0 {
		return nil, &llm.Error{Code: llm.ErrProviderExhausted, Message: "no embedding providers configured"}
	}

	var lastErr error
	for _, p := range g.providers {
		var resp *Response
		err := g.retryer.Do(ctx, func() error {
			// 每次实际出网都占一个限流槽位，重试与降级不例外；
			// context 取消时立即返回，等待不计入出网速率。
			if err := g.limiter.Wait(ctx); err != nil {
				return &llm.Error{Code: llm.ErrRateLimited, Message: err.Error(), Retryable: false}
			}

			cctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
			defer cancel()

			r, callErr := p.Embed(cctx, req)
			if callErr != nil {
				return callErr
			}
			resp = r
			return nil
		})
		if g.recorder != nil {
			g.recorder.EmbeddingRequest(p.Name(), false, err)
		}
		if err == nil {
			g.emitUsage(resp)
			return resp, nil
		}

		// 输入校验类失败换 Provider 也不会成功，直接上抛。
		if llm.CodeOf(err) == llm.ErrInvalidRequest {
			return nil, err
		}

		// context 已取消时后续 Provider 的限流等待也只会立即失败
		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		g.logger.Warn("embedding provider failed, trying next in chain",
			zap.String("provider", p.Name()),
			zap.Error(err))
	}

	g.logger.Error("all embedding providers exhausted", zap.Error(lastErr))
	return nil, llm.Exhausted(g.providers[len(g.providers)-1].Name(), lastErr)
}

func (g *Gateway) emitUsage(resp *Response) {
	if resp == nil {
		return
	}
	if g.recorder != nil {
		g.recorder.EmbeddingUsage(resp.Provider, resp.Model, resp.Usage.TotalTokens, resp.Usage.Cost)
	}
	if g.usageHook != nil {
		g.usageHook(UsageEvent{
			Provider:      resp.Provider,
			Model:         resp.Model,
			Tokens:        resp.Usage.TotalTokens,
			EstimatedCost: resp.Usage.Cost,
			At:            time.Now(),
		})
	}
}
