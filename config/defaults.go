// =============================================================================
// 📦 RagCore 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Redis:     DefaultRedisConfig(),
		Qdrant:    DefaultQdrantConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Providers: DefaultProvidersConfig(),
		Rerank:    DefaultRerankConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Cache:     DefaultCacheConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Enabled:              false,
		Host:                 "localhost",
		Port:                 6333,
		APIKey:               "",
		Collection:           "ragcore_chunks",
		Timeout:              30 * time.Second,
		AutoCreateCollection: true,
		Distance:             "Cosine",
		VectorSize:           0,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入网关配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:             "text-embedding-3-small",
		RequestsPerSecond: 10,
		Burst:             20,
		MaxInputChars:     32000,
		CacheSize:         4096,
		CacheTTL:          time.Hour,
		RequestTimeout:    30 * time.Second,
	}
}

// DefaultProvidersConfig 返回默认 Provider 配置
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		OpenAI: ProviderConfig{
			Enabled:    true,
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    30 * time.Second,
		},
		Cohere: ProviderConfig{
			Enabled: false,
			Model:   "embed-v3.5",
			Timeout: 30 * time.Second,
		},
		Jina: ProviderConfig{
			Enabled: false,
			Model:   "jina-embeddings-v3",
			Timeout: 30 * time.Second,
		},
	}
}

// DefaultRerankConfig 返回默认重排配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled: false,
		Model:   "jina-reranker-v2-base-multilingual",
		Timeout: 30 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Namespace:        "default",
		ChunkStrategy:    "semantic",
		ChunkSize:        1000,
		ChunkOverlap:     200,
		VectorWeight:     0.7,
		BM25Weight:       0.3,
		MinScore:         0,
		DefaultTopK:      5,
		MaxContextTokens: 2048,
		EnableSpelling:   true,
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:             true,
		TTL:                 time.Hour,
		SimilarityThreshold: 0.80,
		LocalMaxSize:        1000,
		KeyPrefix:           "semcache:",
		MinResponseLength:   20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
