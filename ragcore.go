// Package ragcore 提供检索与缓存内核的顶层装配入口。
//
// 使用方法:
//
//	cfg := config.MustLoad("config.yaml")
//	app, err := ragcore.New(cfg)
//	defer app.Close()
//
//	app.Retrieval.IndexDocument(ctx, doc)
//	results, _ := app.Retrieval.Retrieve(ctx, "how do refunds work", rag.RetrieveOptions{})
//
// New 按配置装配嵌入网关、向量索引、混合检索服务与语义响应缓存，
// 各组件也可单独构造（见 rag、semcache、llm/embedding 包）。
package ragcore

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/metrics"
	"github.com/BaSui01/ragcore/internal/redisconn"
	"github.com/BaSui01/ragcore/llm/embedding"
	"github.com/BaSui01/ragcore/llm/rerank"
	"github.com/BaSui01/ragcore/rag"
	"github.com/BaSui01/ragcore/semcache"
)

// App 持有装配完成的全部组件。
type App struct {
	// Config 生效的完整配置。
	Config *config.Config

	// Logger 根日志器。
	Logger *zap.Logger

	// Metrics Prometheus 指标收集器。
	Metrics *metrics.Collector

	// Embeddings 嵌入网关（限流、缓存、Provider 降级链）。
	Embeddings *embedding.Gateway

	// Retrieval 文档摄入与混合检索服务。
	Retrieval *rag.Service

	// Cache 语义响应缓存，cache.enabled 为 false 时为 nil。
	Cache *semcache.SemanticCache

	redis     *redisconn.Manager
	ownLogger bool
}

type options struct {
	logger   *zap.Logger
	registry prometheus.Registerer
	vectors  rag.VectorIndex
	detector semcache.Detector
}

// Option 配置 New 的可选项。
type Option func(*options)

// WithLogger 使用外部日志器（不接管其生命周期）。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer 指定指标注册器，默认使用 prometheus.DefaultRegisterer。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithVectorIndex 使用外部向量索引，覆盖 qdrant 配置。
func WithVectorIndex(v rag.VectorIndex) Option {
	return func(o *options) { o.vectors = v }
}

// WithDetector 使用外部 PII 检测器，默认使用内置正则检测器。
func WithDetector(d semcache.Detector) Option {
	return func(o *options) { o.detector = d }
}

// New 按配置装配完整的检索与缓存内核。
// cfg 为 nil 时使用默认配置。Redis 不可达只影响语义缓存的持久层，
// 缓存会以本地模式继续工作。
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	ownLogger := false
	if logger == nil {
		var err error
		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		ownLogger = true
	}

	collector := metrics.NewCollector("ragcore", o.registry, logger)

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}
	gateway := embedding.NewGateway(providers, embedding.GatewayConfig{
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		MaxInputChars:     cfg.Embedding.MaxInputChars,
		CacheSize:         cfg.Embedding.CacheSize,
		CacheTTL:          cfg.Embedding.CacheTTL,
		RequestTimeout:    cfg.Embedding.RequestTimeout,
	}, logger, embedding.WithRecorder(collector))

	var reranker rerank.Provider
	if cfg.Rerank.Enabled {
		reranker = rerank.NewJinaProvider(rerank.JinaConfig{
			APIKey:  cfg.Rerank.APIKey,
			BaseURL: cfg.Rerank.BaseURL,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.Rerank.Timeout,
		})
	}

	vectors := o.vectors
	if vectors == nil && cfg.Qdrant.Enabled {
		vectors = rag.NewQdrantIndex(rag.QdrantConfig{
			Host:                 cfg.Qdrant.Host,
			Port:                 cfg.Qdrant.Port,
			BaseURL:              cfg.Qdrant.BaseURL,
			APIKey:               cfg.Qdrant.APIKey,
			Collection:           cfg.Qdrant.Collection,
			Timeout:              cfg.Qdrant.Timeout,
			AutoCreateCollection: cfg.Qdrant.AutoCreateCollection,
			Distance:             cfg.Qdrant.Distance,
			VectorSize:           cfg.Qdrant.VectorSize,
		}, logger)
	}

	svcCfg := buildServiceConfig(cfg.Retrieval, cfg.Embedding.Model, cfg.Rerank)
	svc := rag.NewService(svcCfg, gateway, vectors, reranker, logger, rag.WithRecorder(collector))

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    collector,
		Embeddings: gateway,
		Retrieval:  svc,
		ownLogger:  ownLogger,
	}

	if cfg.Cache.Enabled {
		detector := o.detector
		if detector == nil {
			detector = semcache.NewRegexDetector()
		}

		manager, err := redisconn.NewManager(redisconn.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			MaxRetries:          cfg.Redis.MaxRetries,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			HealthCheckInterval: cfg.Redis.HealthCheckInterval,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, semantic cache runs local-only", zap.Error(err))
		} else {
			app.redis = manager
		}

		cacheCfg := semcache.Config{
			TTL:                 cfg.Cache.TTL,
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			LocalMaxSize:        cfg.Cache.LocalMaxSize,
			EmbeddingModel:      cfg.Embedding.Model,
			KeyPrefix:           cfg.Cache.KeyPrefix,
			Gate: semcache.SafetyGateConfig{
				MinResponseLength: cfg.Cache.MinResponseLength,
			},
		}
		var rdb *redis.Client
		if app.redis != nil {
			rdb = app.redis.Client()
		}
		app.Cache = semcache.NewSemanticCache(cacheCfg, gateway, detector, rdb, logger, semcache.WithRecorder(collector))
	}

	logger.Info("ragcore assembled",
		zap.Int("embedding_providers", len(providers)),
		zap.Bool("qdrant", cfg.Qdrant.Enabled),
		zap.Bool("rerank", cfg.Rerank.Enabled),
		zap.Bool("semantic_cache", cfg.Cache.Enabled),
	)

	return app, nil
}

// Close 按依赖反序释放资源。
func (a *App) Close() error {
	var firstErr error

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Retrieval != nil {
		if err := a.Retrieval.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.ownLogger {
		_ = a.Logger.Sync()
	}
	return firstErr
}

// buildProviders 按 openai → cohere → jina 的顺序构建降级链。
func buildProviders(cfg config.ProvidersConfig) ([]embedding.Provider, error) {
	var providers []embedding.Provider

	if cfg.OpenAI.Enabled {
		providers = append(providers, embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.OpenAI.Dimensions,
			Timeout:    cfg.OpenAI.Timeout,
		}))
	}
	if cfg.Cohere.Enabled {
		providers = append(providers, embedding.NewCohereProvider(embedding.CohereConfig{
			APIKey:  cfg.Cohere.APIKey,
			BaseURL: cfg.Cohere.BaseURL,
			Model:   cfg.Cohere.Model,
			Timeout: cfg.Cohere.Timeout,
		}))
	}
	if cfg.Jina.Enabled {
		providers = append(providers, embedding.NewJinaProvider(embedding.JinaConfig{
			APIKey:  cfg.Jina.APIKey,
			BaseURL: cfg.Jina.BaseURL,
			Model:   cfg.Jina.Model,
			Timeout: cfg.Jina.Timeout,
		}))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no embedding provider enabled")
	}
	return providers, nil
}

// buildServiceConfig 将扁平的检索配置映射为各子模块配置。
func buildServiceConfig(r config.RetrievalConfig, model string, rr config.RerankConfig) rag.ServiceConfig {
	cfg := rag.DefaultServiceConfig()
	cfg.Namespace = r.Namespace
	cfg.EmbeddingModel = model

	if r.ChunkStrategy != "" {
		cfg.Chunking.Strategy = rag.ChunkingStrategy(r.ChunkStrategy)
	}
	if r.ChunkSize > 0 {
		cfg.Chunking.ChunkSize = r.ChunkSize
	}
	if r.ChunkOverlap >= 0 {
		cfg.Chunking.Overlap = r.ChunkOverlap
	}
	cfg.Lexical.EnableSpelling = r.EnableSpelling

	if r.VectorWeight > 0 || r.BM25Weight > 0 {
		cfg.Hybrid.VectorWeight = r.VectorWeight
		cfg.Hybrid.BM25Weight = r.BM25Weight
	}
	cfg.Hybrid.MinScore = r.MinScore
	cfg.Hybrid.UseReranking = rr.Enabled
	cfg.Hybrid.RerankModel = rr.Model

	if r.DefaultTopK > 0 {
		cfg.Planner.DefaultTopK = r.DefaultTopK
	}
	if r.MaxContextTokens > 0 {
		cfg.MaxContextTokens = r.MaxContextTokens
	}
	return cfg
}

// buildLogger 按日志配置构建 zap 日志器。
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	zcfg.DisableCaller = !cfg.EnableCaller
	zcfg.DisableStacktrace = !cfg.EnableStacktrace

	return zcfg.Build()
}
