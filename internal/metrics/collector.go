// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器。实现嵌入网关与语义缓存的 Recorder 接口。
type Collector struct {
	// 嵌入指标
	embeddingRequestsTotal *prometheus.CounterVec
	embeddingTokensUsed    *prometheus.CounterVec
	embeddingCost          *prometheus.CounterVec

	// 语义缓存指标
	cacheHits     *prometheus.CounterVec
	cacheMisses   prometheus.Counter
	cacheStored   prometheus.Counter
	cacheRejected *prometheus.CounterVec

	// 检索指标
	retrievalDuration *prometheus.HistogramVec
	retrievalDegraded prometheus.Counter
	documentsIndexed  prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 嵌入指标
	c.embeddingRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"}, // status: ok, cached, error
	)

	c.embeddingTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_used_total",
			Help:      "Total number of tokens sent to embedding providers",
		},
		[]string{"provider", "model"},
	)

	c.embeddingCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cost_total",
			Help:      "Total embedding cost in USD",
		},
		[]string{"provider", "model"},
	)

	// 语义缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semcache_hits_total",
			Help:      "Total number of semantic cache hits",
		},
		[]string{"kind"}, // kind: exact, semantic
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semcache_misses_total",
			Help:      "Total number of semantic cache misses",
		},
	)

	c.cacheStored = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semcache_stored_total",
			Help:      "Total number of responses stored in the semantic cache",
		},
	)

	c.cacheRejected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semcache_rejected_total",
			Help:      "Total number of cache writes rejected by the safety gate",
		},
		[]string{"reason"},
	)

	// 检索指标
	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"mode"}, // mode: hybrid, lexical
	)

	c.retrievalDegraded = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Total number of retrievals degraded to lexical-only",
		},
	)

	c.documentsIndexed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of documents indexed",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// ====== 嵌入指标记录（embedding.Recorder）======

// EmbeddingRequest 记录一次嵌入请求。
func (c *Collector) EmbeddingRequest(provider string, cached bool, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case cached:
		status = "cached"
	}
	c.embeddingRequestsTotal.WithLabelValues(provider, status).Inc()
}

// EmbeddingUsage 记录嵌入用量与成本。
func (c *Collector) EmbeddingUsage(provider, model string, tokens int, cost float64) {
	c.embeddingTokensUsed.WithLabelValues(provider, model).Add(float64(tokens))
	c.embeddingCost.WithLabelValues(provider, model).Add(cost)
}

// ====== 语义缓存指标记录（semcache.Recorder）======

// CacheHit 记录缓存命中。
func (c *Collector) CacheHit(kind string) {
	c.cacheHits.WithLabelValues(kind).Inc()
}

// CacheMiss 记录缓存未命中。
func (c *Collector) CacheMiss() {
	c.cacheMisses.Inc()
}

// CacheStored 记录一次成功写入。
func (c *Collector) CacheStored() {
	c.cacheStored.Inc()
}

// CacheRejected 记录被安全门拒绝的写入。
func (c *Collector) CacheRejected(reason string) {
	c.cacheRejected.WithLabelValues(reason).Inc()
}

// ====== 检索指标记录 ======

// RecordRetrieval 记录一次检索耗时。
func (c *Collector) RecordRetrieval(mode string, duration time.Duration) {
	c.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDegraded 记录一次降级检索。
func (c *Collector) RecordDegraded() {
	c.retrievalDegraded.Inc()
}

// RecordDocumentIndexed 记录一次文档摄入。
func (c *Collector) RecordDocumentIndexed() {
	c.documentsIndexed.Inc()
}
