// =============================================================================
// 📦 RagCore 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RAGCORE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 RagCore 的完整配置结构
type Config struct {
	// Redis 连接配置（语义缓存持久层）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Qdrant 向量存储配置
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`

	// Embedding 嵌入网关配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Providers 嵌入 Provider 降级链配置
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Rerank 重排配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Retrieval 检索流水线配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Cache 语义响应缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 健康检查间隔，0 关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	// 是否启用（关闭时使用内存向量索引）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// REST 端口
	Port int `yaml:"port" env:"PORT"`
	// 完整基础 URL（设置后覆盖 host/port）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 集合不存在时自动创建
	AutoCreateCollection bool `yaml:"auto_create_collection" env:"AUTO_CREATE_COLLECTION"`
	// 距离度量: Cosine, Dot, Euclid
	Distance string `yaml:"distance" env:"DISTANCE"`
	// 向量维度，0 时取首批向量的维度
	VectorSize int `yaml:"vector_size" env:"VECTOR_SIZE"`
}

// EmbeddingConfig 嵌入网关配置
type EmbeddingConfig struct {
	// 默认嵌入模型
	Model string `yaml:"model" env:"MODEL"`
	// 共享令牌桶速率
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 令牌桶突发容量
	Burst int `yaml:"burst" env:"BURST"`
	// 单条输入最大字符数
	MaxInputChars int `yaml:"max_input_chars" env:"MAX_INPUT_CHARS"`
	// 内容寻址缓存容量
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 缓存条目生存时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 单次 Provider 调用超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// ProvidersConfig 嵌入 Provider 配置，按声明顺序构成降级链
type ProvidersConfig struct {
	// OpenAI 主 Provider
	OpenAI ProviderConfig `yaml:"openai" env:"OPENAI"`
	// Cohere 备用 Provider
	Cohere ProviderConfig `yaml:"cohere" env:"COHERE"`
	// Jina 备用 Provider
	Jina ProviderConfig `yaml:"jina" env:"JINA"`
}

// ProviderConfig 单个嵌入 Provider 配置
type ProviderConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，空串用官方端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名（可选，空串用 Provider 默认）
	Model string `yaml:"model" env:"MODEL"`
	// 输出维度（仅 OpenAI 支持）
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RerankConfig 重排配置
type RerankConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 重排模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetrievalConfig 检索流水线配置
type RetrievalConfig struct {
	// 向量索引命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 切分策略: fixed_size, semantic, hierarchical, sliding_window
	ChunkStrategy string `yaml:"chunk_strategy" env:"CHUNK_STRATEGY"`
	// 切分块大小（字符）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻块重叠（字符）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 混合打分向量权重
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// 混合打分 BM25 权重
	BM25Weight float64 `yaml:"bm25_weight" env:"BM25_WEIGHT"`
	// 结果最低分过滤，0 不过滤
	MinScore float64 `yaml:"min_score" env:"MIN_SCORE"`
	// 规划器兜底 TopK
	DefaultTopK int `yaml:"default_top_k" env:"DEFAULT_TOP_K"`
	// 上下文拼装 token 预算
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// BM25 拼写纠错
	EnableSpelling bool `yaml:"enable_spelling" env:"ENABLE_SPELLING"`
}

// CacheConfig 语义响应缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 条目生存时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 近似命中余弦相似度阈值
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 本地 LRU 容量
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 可缓存响应最小长度
	MinResponseLength int `yaml:"min_response_length" env:"MIN_RESPONSE_LENGTH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RAGCORE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证切分配置
	if c.Retrieval.ChunkSize <= 0 {
		errs = append(errs, "chunk_size must be positive")
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		errs = append(errs, "chunk_overlap must be in [0, chunk_size)")
	}

	// 验证混合打分权重
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.BM25Weight < 0 {
		errs = append(errs, "ranking weights must be non-negative")
	}
	if c.Retrieval.VectorWeight+c.Retrieval.BM25Weight <= 0 {
		errs = append(errs, "at least one ranking weight must be positive")
	}

	// 验证语义缓存配置
	if c.Cache.Enabled {
		if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
			errs = append(errs, "similarity_threshold must be in (0, 1]")
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, "cache ttl must be positive")
		}
	}

	// 验证 Provider 配置
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		errs = append(errs, "openai provider enabled without api_key")
	}
	if c.Providers.Cohere.Enabled && c.Providers.Cohere.APIKey == "" {
		errs = append(errs, "cohere provider enabled without api_key")
	}
	if c.Providers.Jina.Enabled && c.Providers.Jina.APIKey == "" {
		errs = append(errs, "jina provider enabled without api_key")
	}
	if c.Rerank.Enabled && c.Rerank.APIKey == "" {
		errs = append(errs, "rerank enabled without api_key")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
