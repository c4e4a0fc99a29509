package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/llm"
	"github.com/BaSui01/ragcore/llm/retry"
)

// fakeProvider 返回可编程的嵌入结果，用于网关测试。
type fakeProvider struct {
	name     string
	dims     int
	maxBatch int
	failN    int32 // 前 N 次调用失败
	failAll  bool
	calls    int32
}

func newFakeProvider(name string, dims int) *fakeProvider {
	return &fakeProvider{name: name, dims: dims, maxBatch: 64}
}

func (f *fakeProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.failAll || n <= f.failN {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "fake upstream failure", Retryable: true, Provider: f.name}
	}

	embeddings := make([]Data, len(req.Input))
	for i, text := range req.Input {
		vec := make([]float64, f.dims)
		for j := range vec {
			vec[j] = float64(len(text)%7+1) * float64(j+1)
		}
		embeddings[i] = Data{Index: i, Embedding: vec}
	}
	return &Response{
		Provider:   f.name,
		Model:      req.Model,
		Embeddings: embeddings,
		Usage:      Usage{TotalTokens: 10 * len(req.Input), Cost: 0.001},
	}, nil
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) Dimensions() int   { return f.dims }
func (f *fakeProvider) MaxBatchSize() int { return f.maxBatch }

func fastRetry() *retry.Policy {
	return &retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, Jitter: false, Retryable: llm.IsRetryable}
}

func newTestGateway(providers []Provider, opts ...GatewayOption) *Gateway {
	cfg := DefaultGatewayConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	cfg.Retry = fastRetry()
	return NewGateway(providers, cfg, zap.NewNop(), opts...)
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	g := newTestGateway([]Provider{newFakeProvider("p1", 8)})

	_, err := g.Embed(context.Background(), "   ", "m")
	require.Error(t, err)
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
}

func TestEmbedRejectsOversizedInput(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.MaxInputChars = 10
	cfg.Retry = fastRetry()
	g := NewGateway([]Provider{newFakeProvider("p1", 8)}, cfg, zap.NewNop())

	_, err := g.Embed(context.Background(), "this text is longer than ten characters", "m")
	require.Error(t, err)
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
}

func TestEmbedCacheHit(t *testing.T) {
	p := newFakeProvider("p1", 8)
	g := newTestGateway([]Provider{p})

	v1, err := g.Embed(context.Background(), "hello world", "m")
	require.NoError(t, err)
	assert.False(t, v1.Cached)

	v2, err := g.Embed(context.Background(), "hello world", "m")
	require.NoError(t, err)
	assert.True(t, v2.Cached)
	assert.Equal(t, v1.Values, v2.Values)

	// 第二次不应触达 Provider
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestEmbedFallbackChain(t *testing.T) {
	primary := newFakeProvider("primary", 8)
	primary.failAll = true
	secondary := newFakeProvider("secondary", 8)

	g := newTestGateway([]Provider{primary, secondary})

	v, err := g.Embed(context.Background(), "fallback please", "m")
	require.NoError(t, err)
	assert.Equal(t, 8, v.Dimensions)
	assert.Positive(t, atomic.LoadInt32(&secondary.calls))
}

func TestEmbedAllProvidersExhausted(t *testing.T) {
	p1 := newFakeProvider("p1", 8)
	p1.failAll = true
	p2 := newFakeProvider("p2", 8)
	p2.failAll = true

	g := newTestGateway([]Provider{p1, p2})

	_, err := g.Embed(context.Background(), "doomed", "m")
	require.Error(t, err)
	assert.Equal(t, llm.ErrProviderExhausted, llm.CodeOf(err))
}

func TestEmbedRetriesTransientThenSucceeds(t *testing.T) {
	p := newFakeProvider("p1", 8)
	p.failN = 1 // 首次失败，重试成功

	g := newTestGateway([]Provider{p})

	_, err := g.Embed(context.Background(), "transient", "m")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestEmbedBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	g := newTestGateway([]Provider{newFakeProvider("p1", 8)})

	texts := []string{"first", "", "third"}
	items, err := g.EmbedBatch(context.Background(), texts, "m")
	require.NoError(t, err)
	require.Len(t, items, len(texts))

	assert.NoError(t, items[0].Err)
	assert.NotNil(t, items[0].Vector)
	assert.Equal(t, 0, items[0].Index)

	// 空文本校验失败，不影响其余项
	assert.Error(t, items[1].Err)
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(items[1].Err))

	assert.NoError(t, items[2].Err)
	assert.NotNil(t, items[2].Vector)
	assert.Equal(t, 2, items[2].Index)
}

func TestEmbedBatchOutputLengthEqualsInput(t *testing.T) {
	g := newTestGateway([]Provider{newFakeProvider("p1", 4)})

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("document number %d", i)
	}
	items, err := g.EmbedBatch(context.Background(), texts, "m")
	require.NoError(t, err)
	assert.Len(t, items, 150)
	for i, item := range items {
		assert.Equal(t, i, item.Index)
		assert.NotNil(t, item.Vector, "item %d", i)
	}
}

func TestEmbedBatchGroupFailureDoesNotAffectCached(t *testing.T) {
	p := newFakeProvider("p1", 8)
	g := newTestGateway([]Provider{p})

	// 预热缓存
	_, err := g.Embed(context.Background(), "warm", "m")
	require.NoError(t, err)

	p.failAll = true

	items, err := g.EmbedBatch(context.Background(), []string{"warm", "cold"}, "m")
	require.NoError(t, err)
	assert.NotNil(t, items[0].Vector, "cached item should survive provider outage")
	assert.True(t, items[0].Vector.Cached)
	assert.Error(t, items[1].Err)
}

func TestUsageHookEmitted(t *testing.T) {
	var events []UsageEvent
	g := newTestGateway([]Provider{newFakeProvider("p1", 8)},
		WithUsageHook(func(e UsageEvent) { events = append(events, e) }))

	_, err := g.Embed(context.Background(), "usage", "model-x")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "p1", events[0].Provider)
	assert.Equal(t, 10, events[0].Tokens)
	assert.Positive(t, events[0].EstimatedCost)
}

func TestChainStopsOnValidationError(t *testing.T) {
	bad := &validationFailProvider{}
	second := newFakeProvider("second", 8)
	g := newTestGateway([]Provider{bad, second})

	_, err := g.Embed(context.Background(), "text", "m")
	require.Error(t, err)
	assert.Equal(t, llm.ErrInvalidRequest, llm.CodeOf(err))
	assert.Zero(t, atomic.LoadInt32(&second.calls), "invalid request must not cascade down the chain")
}

type validationFailProvider struct{}

func (p *validationFailProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "bad request", Retryable: false, Provider: "bad"}
}
func (p *validationFailProvider) Name() string      { return "bad" }
func (p *validationFailProvider) Dimensions() int   { return 8 }
func (p *validationFailProvider) MaxBatchSize() int { return 8 }

func TestZeroVectorRejected(t *testing.T) {
	g := newTestGateway([]Provider{&zeroProvider{}})

	_, err := g.Embed(context.Background(), "zero", "m")
	require.Error(t, err)
	// 单 Provider 链：全零向量视为上游错误，链耗尽后转终态
	assert.True(t,
		llm.CodeOf(err) == llm.ErrUpstreamError || llm.CodeOf(err) == llm.ErrProviderExhausted,
		"got %v", err)
}

type zeroProvider struct{}

func (p *zeroProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	embeddings := make([]Data, len(req.Input))
	for i := range req.Input {
		embeddings[i] = Data{Index: i, Embedding: make([]float64, 8)}
	}
	return &Response{Provider: "zero", Model: req.Model, Embeddings: embeddings}, nil
}
func (p *zeroProvider) Name() string      { return "zero" }
func (p *zeroProvider) Dimensions() int   { return 8 }
func (p *zeroProvider) MaxBatchSize() int { return 8 }

func TestRateLimiterCooperativeWait(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.RequestsPerSecond = 50
	cfg.Burst = 1
	cfg.Retry = fastRetry()
	g := NewGateway([]Provider{newFakeProvider("p1", 4)}, cfg, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Embed(context.Background(), fmt.Sprintf("text %d", i), "m")
		require.NoError(t, err)
	}
	// burst=1, 50 rps：三次请求至少需要 ~40ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimiterChargesEachAttempt(t *testing.T) {
	p := newFakeProvider("p1", 4)
	p.failAll = true

	cfg := DefaultGatewayConfig()
	cfg.RequestsPerSecond = 0.1
	cfg.Burst = 1
	cfg.Retry = &retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, Jitter: false, Retryable: llm.IsRetryable}
	g := NewGateway([]Provider{p}, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := g.Embed(ctx, "charged per attempt", "m")
	require.Error(t, err)

	// 首次尝试消耗突发额度后失败，重试在限流等待处被 context 截停：
	// 真实出网只有一次，而不是每次重试都绕过限流
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
	assert.Equal(t, llm.ErrRateLimited, llm.CodeOf(err))
}

func TestRateLimiterHonorsContextCancel(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.RequestsPerSecond = 0.1
	cfg.Burst = 1
	cfg.Retry = fastRetry()
	g := NewGateway([]Provider{newFakeProvider("p1", 4)}, cfg, zap.NewNop())

	// 耗尽突发额度
	_, err := g.Embed(context.Background(), "one", "m")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Embed(ctx, "two", "m")
	require.Error(t, err)
	assert.Equal(t, llm.ErrRateLimited, llm.CodeOf(err))
}

func TestIsZeroVector(t *testing.T) {
	v := Vector{Values: []float64{0, 0, 0}}
	assert.True(t, v.IsZero())
	v.Values[1] = 0.5
	assert.False(t, v.IsZero())
}
