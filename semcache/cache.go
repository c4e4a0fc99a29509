package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/ragcore/llm/embedding"
	ragpkg "github.com/BaSui01/ragcore/rag"
)

// Entry 一条缓存的响应。写入后只有 HitCount 会变化。
type Entry struct {
	Key             string    `json:"key"`
	Bucket          string    `json:"bucket"`
	QueryNormalized string    `json:"query_normalized"` // 脱敏后的归一化查询
	QueryEmbedding  []float64 `json:"query_embedding"`
	ResponseText    string    `json:"response_text"`
	QualityScore    float64   `json:"quality_score"`
	HitCount        int       `json:"hit_count"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Embedder 语义缓存依赖的向量化能力，由嵌入网关实现。
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*embedding.Vector, error)
}

// Config 语义缓存配置。
type Config struct {
	// TTL 条目生存时间。
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// SimilarityThreshold 近似命中的余弦相似度阈值。
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`

	// LocalMaxSize 本地 LRU 容量。
	LocalMaxSize int `json:"local_max_size" yaml:"local_max_size"`

	// EmbeddingModel 查询嵌入模型。
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`

	// KeyPrefix Redis 键前缀。
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	Gate SafetyGateConfig `json:"gate" yaml:"gate"`
}

// DefaultConfig 默认配置。
func DefaultConfig() Config {
	return Config{
		TTL:                 time.Hour,
		SimilarityThreshold: 0.80,
		LocalMaxSize:        1000,
		KeyPrefix:           "semcache:",
	}
}

// Option 构造选项。
type Option func(*SemanticCache)

// WithRecorder 注入指标记录器。
func WithRecorder(r Recorder) Option {
	return func(c *SemanticCache) { c.recorder = r }
}

// SemanticCache 语义响应缓存。本地 LRU 在前、Redis 在后；rdb 为 nil 时
// 只用本地层。所有方法并发安全。
type SemanticCache struct {
	cfg      Config
	embedder Embedder
	detector Detector
	gate     *SafetyGate
	local    *localStore
	rdb      *redis.Client
	group    singleflight.Group
	counters *counters
	recorder Recorder
	logger   *zap.Logger

	// 跨键的近似查重窗口按 bucket 串行化。singleflight 只合并同键写入，
	// 两个不同键、语义相近的并发写仍需要互斥才能保证最多一条落库。
	writeMu    sync.Mutex
	writeLocks map[string]*sync.Mutex

	now func() time.Time
}

// NewSemanticCache 创建语义缓存。detector 为 nil 时所有写入都会被
// 安全门拒绝（故障安全）。
func NewSemanticCache(cfg Config, embedder Embedder, detector Detector, rdb *redis.Client, logger *zap.Logger, opts ...Option) *SemanticCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.80
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "semcache:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &SemanticCache{
		cfg:        cfg,
		embedder:   embedder,
		detector:   detector,
		gate:       NewSafetyGate(cfg.Gate, detector),
		local:      newLocalStore(cfg.LocalMaxSize),
		rdb:        rdb,
		counters:   newCounters(),
		logger:     logger.With(zap.String("component", "semcache")),
		writeLocks: make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// redisKey bucket 编入键名，便于按 bucket 失效。
func (c *SemanticCache) redisKey(bucket, key string) string {
	return c.cfg.KeyPrefix + bucket + ":" + key
}

// redactedQuery 归一化并脱敏。检测器缺失时退回纯归一化（只读路径安全）。
func (c *SemanticCache) redactedQuery(query string) string {
	norm := NormalizeQuery(query)
	if c.detector == nil {
		return norm
	}
	redacted, err := c.detector.Redact(norm)
	if err != nil {
		return norm
	}
	return redacted
}

// Get 查缓存：先精确键命中，再对 bucket 内存活条目做向量近似命中。
// 过期条目被剔除且绝不返回；命中会自增 HitCount。
func (c *SemanticCache) Get(ctx context.Context, query, bucket string) (*Entry, bool, error) {
	redacted := c.redactedQuery(query)
	if redacted == "" {
		return nil, false, nil
	}
	key := cacheKey(bucket, redacted)
	now := c.now()

	// 1. 本地精确命中。get 与 bump 之间条目可能被逐出，只信 bump 的
	// 结果，落空则继续走 Redis 路。
	if _, ok := c.local.get(key, now); ok {
		if entry, ok := c.local.bump(key); ok {
			c.persistAsync(entry)
			c.hit("exact")
			return entry, true, nil
		}
	}

	// 2. Redis 精确命中，回填本地
	if entry := c.redisGet(ctx, bucket, key, now); entry != nil {
		c.local.set(entry)
		bumped, _ := c.local.bump(key)
		c.persistAsync(bumped)
		c.hit("exact")
		return bumped, true, nil
	}

	// 3. 向量近似命中
	if c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, redacted, c.cfg.EmbeddingModel)
		if err != nil {
			c.logger.Warn("query embedding failed, skipping semantic match", zap.Error(err))
		} else if entry := c.nearestLive(bucket, vec.Values, now); entry != nil {
			bumped, ok := c.local.bump(entry.Key)
			if !ok {
				bumped = entry
			}
			c.persistAsync(bumped)
			c.hit("semantic")
			return bumped, true, nil
		}
	}

	c.counters.misses.Add(1)
	if c.recorder != nil {
		c.recorder.CacheMiss()
	}
	return nil, false, nil
}

// Put 写缓存。响应先过安全门；TTL 内已有等价条目（精确或近似）时按
// 重复拒绝。同一键的并发写入由 singleflight 合并，不同键但语义相近的
// 并发写入由 bucket 写锁串行化，二者合计保证最多一条落库。
// 返回是否真正写入；被安全门或查重拒绝不是错误。
func (c *SemanticCache) Put(ctx context.Context, query, response, bucket string) (bool, error) {
	redacted := c.redactedQuery(query)
	if redacted == "" {
		return false, errors.New("empty query")
	}
	key := cacheKey(bucket, redacted)

	stored, err, _ := c.group.Do(key, func() (any, error) {
		return c.put(ctx, redacted, response, bucket, key)
	})
	if err != nil {
		return false, err
	}
	return stored.(bool), nil
}

func (c *SemanticCache) put(ctx context.Context, redacted, response, bucket, key string) (bool, error) {
	if reason := c.gate.Check(response); reason != RejectNone {
		c.rejectWrite(reason, bucket)
		return false, nil
	}

	// 精确重复的快路径，省掉一次嵌入调用。权威判定在写锁内再做一遍。
	if _, ok := c.local.get(key, c.now()); ok {
		c.rejectWrite(RejectDuplicate, bucket)
		return false, nil
	}

	if c.embedder == nil {
		return false, errors.New("embedder is required for cache writes")
	}
	vec, err := c.embedder.Embed(ctx, redacted, c.cfg.EmbeddingModel)
	if err != nil {
		return false, err
	}

	// 查重与写入必须原子：不同键的近似重复写并发到达时，
	// 没有这把锁双方都会在空 bucket 上通过 nearestLive 然后都落库。
	mu := c.bucketLock(bucket)
	mu.Lock()
	now := c.now()
	duplicate := false
	if _, ok := c.local.get(key, now); ok {
		duplicate = true
	} else if entry := c.redisGet(ctx, bucket, key, now); entry != nil {
		duplicate = true
	} else if entry := c.nearestLive(bucket, vec.Values, now); entry != nil {
		duplicate = true
	}

	var entry *Entry
	if !duplicate {
		entry = &Entry{
			Key:             key,
			Bucket:          bucket,
			QueryNormalized: redacted,
			QueryEmbedding:  vec.Values,
			ResponseText:    response,
			QualityScore:    qualityScore(response),
			CreatedAt:       now,
			ExpiresAt:       now.Add(c.cfg.TTL),
		}
		c.local.set(entry)
	}
	mu.Unlock()

	if duplicate {
		c.rejectWrite(RejectDuplicate, bucket)
		return false, nil
	}

	c.persist(ctx, entry)

	c.counters.stored.Add(1)
	if c.recorder != nil {
		c.recorder.CacheStored()
	}
	c.logger.Debug("response cached",
		zap.String("bucket", bucket),
		zap.String("key", key))
	return true, nil
}

// bucketLock 返回 bucket 的写锁，按需创建。
func (c *SemanticCache) bucketLock(bucket string) *sync.Mutex {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	mu, ok := c.writeLocks[bucket]
	if !ok {
		mu = &sync.Mutex{}
		c.writeLocks[bucket] = mu
	}
	return mu
}

// Invalidate 清空一个 bucket，返回删除条数。失效粒度就是 bucket：
// 缓存键是查询的 sha256 摘要、不含明文，按查询模式匹配无从谈起，
// 需要更细的失效范围时应在写入侧拆分更细的 bucket。
// Redis 侧按 "<prefix><bucket>:*" 扫描删除。
func (c *SemanticCache) Invalidate(ctx context.Context, bucket string) (int, error) {
	removed := c.local.clearBucket(bucket)

	if c.rdb == nil {
		return removed, nil
	}

	pattern := c.cfg.KeyPrefix + bucket + ":*"
	deleted := 0
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	if deleted > removed {
		removed = deleted
	}
	return removed, nil
}

// Stats 返回计数快照。
func (c *SemanticCache) Stats() Stats { return c.counters.snapshot() }

// LocalLen 返回本地层条目数。
func (c *SemanticCache) LocalLen() int { return c.local.len() }

// Close 目前只为对称的生命周期管理保留；Redis 客户端由注入方关闭。
func (c *SemanticCache) Close() error { return nil }

// ====== 内部 ======

func (c *SemanticCache) hit(kind string) {
	if kind == "exact" {
		c.counters.exactHits.Add(1)
	} else {
		c.counters.semanticHits.Add(1)
	}
	if c.recorder != nil {
		c.recorder.CacheHit(kind)
	}
}

func (c *SemanticCache) rejectWrite(reason RejectReason, bucket string) {
	c.counters.reject(reason)
	if c.recorder != nil {
		c.recorder.CacheRejected(string(reason))
	}
	c.logger.Info("cache write rejected",
		zap.String("bucket", bucket),
		zap.String("reason", string(reason)))
}

// nearestLive 在 bucket 的存活条目中找相似度最高且过阈值的一条。
func (c *SemanticCache) nearestLive(bucket string, query []float64, now time.Time) *Entry {
	var best *Entry
	bestScore := c.cfg.SimilarityThreshold
	for _, entry := range c.local.liveEntries(bucket, now) {
		score := ragpkg.CosineSimilarity(query, entry.QueryEmbedding)
		if score >= bestScore {
			best = entry
			bestScore = score
		}
	}
	return best
}

// redisGet 读 Redis；故障按未命中处理，只记日志。
func (c *SemanticCache) redisGet(ctx context.Context, bucket, key string, now time.Time) *Entry {
	if c.rdb == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, c.redisKey(bucket, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed, treating as miss", zap.Error(err))
		}
		return nil
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.Error(err))
		c.rdb.Del(ctx, c.redisKey(bucket, key))
		return nil
	}
	if now.After(entry.ExpiresAt) {
		c.rdb.Del(ctx, c.redisKey(bucket, key))
		return nil
	}
	return &entry
}

// persist 写 Redis；故障只降级记日志，本地层仍然生效。
func (c *SemanticCache) persist(ctx context.Context, entry *Entry) {
	if c.rdb == nil {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache entry marshal failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.redisKey(entry.Bucket, entry.Key), data, ttl).Err(); err != nil {
		c.logger.Warn("redis set failed, local-only entry", zap.Error(err))
	}
}

// persistAsync 命中计数的回写不阻塞读路径。
func (c *SemanticCache) persistAsync(entry *Entry) {
	if c.rdb == nil || entry == nil {
		return
	}
	go c.persist(context.Background(), entry)
}

// qualityScore 简单的响应质量启发式，长响应趋近 1。
func qualityScore(response string) float64 {
	score := float64(len(response)) / 400.0
	if score > 1 {
		score = 1
	}
	return score
}
