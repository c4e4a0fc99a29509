package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/llm/embedding"
	"github.com/BaSui01/ragcore/llm/rerank"
	"github.com/BaSui01/ragcore/llm/tokenizer"
)

// Embedder 是检索服务依赖的向量化能力，由嵌入网关实现。
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*embedding.Vector, error)
	EmbedBatch(ctx context.Context, texts []string, model string) ([]embedding.BatchItem, error)
}

// Recorder 接收检索侧的可观测事件；nil 表示不采集。
type Recorder interface {
	// RecordRetrieval 记录一次检索耗时，mode 为 hybrid 或 lexical。
	RecordRetrieval(mode string, duration time.Duration)

	// RecordDegraded 记录一次降级（向量路失败或查询嵌入失败）。
	RecordDegraded()

	// RecordDocumentIndexed 记录一次文档摄入。
	RecordDocumentIndexed()
}

// ServiceOption 配置 Service 的可选项。
type ServiceOption func(*Service)

// WithRecorder 注入指标记录器。
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// ServiceConfig 检索服务配置。
type ServiceConfig struct {
	// Namespace 向量索引命名空间，空串使用 "default"。
	Namespace string `json:"namespace" yaml:"namespace"`

	// EmbeddingModel 文档与查询共用的嵌入模型。
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`

	Chunking ChunkingConfig `json:"chunking" yaml:"chunking"`
	Lexical  LexicalConfig  `json:"lexical" yaml:"lexical"`
	Hybrid   HybridConfig   `json:"hybrid" yaml:"hybrid"`
	Planner  PlannerConfig  `json:"planner" yaml:"planner"`

	// MaxContextTokens FormatContext 的截断预算（估算 token）。
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`
}

// DefaultServiceConfig 默认服务配置。
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Namespace:        "default",
		Chunking:         DefaultChunkingConfig(),
		Lexical:          DefaultLexicalConfig(),
		Hybrid:           DefaultHybridConfig(),
		Planner:          DefaultPlannerConfig(),
		MaxContextTokens: 2048,
	}
}

// RetrieveOptions 单次检索的选项。
type RetrieveOptions struct {
	// TopK 为 0 时由规划器按查询复杂度决定。
	TopK int

	// Category 非空时只检索该类目的块。
	Category string

	// LexicalOnly 跳过向量路（调试或嵌入不可用时的显式降级）。
	LexicalOnly bool
}

// Service 检索核心的依赖注入入口：分块、嵌入、双索引、混合检索与规划
// 在这里组装。构造一次、显式 Close，不使用包级单例。
type Service struct {
	cfg      ServiceConfig
	chunker  *DocumentChunker
	lexical  *BM25Index
	vectors  VectorIndex
	ranker   *HybridRanker
	planner  *QueryPlanner
	embedder Embedder
	recorder Recorder
	logger   *zap.Logger
}

// NewService 组装检索服务。vectors 为 nil 时使用内存向量索引，
// reranker 可为 nil。
func NewService(cfg ServiceConfig, embedder Embedder, vectors VectorIndex, reranker rerank.Provider, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 2048
	}
	if vectors == nil {
		vectors = NewInMemoryVectorIndex(logger)
	}

	tok := tokenizer.ForModel(cfg.EmbeddingModel)
	lexical := NewBM25Index(cfg.Lexical, logger)

	s := &Service{
		cfg:      cfg,
		chunker:  NewDocumentChunker(tok, logger),
		lexical:  lexical,
		vectors:  vectors,
		ranker:   NewHybridRanker(cfg.Hybrid, lexical, vectors, reranker, logger),
		planner:  NewQueryPlanner(cfg.Planner, tok, logger),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "rag_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	// 向量路降级发生在混合检索内部，计数也从那里上报
	s.ranker.recorder = s.recorder
	return s
}

// IndexDocument 分块、嵌入并写入双索引。同一文档重复摄入时整组替换。
// 返回成功建立向量的块数。
func (s *Service) IndexDocument(ctx context.Context, doc Document) (int, error) {
	if doc.ID == "" {
		return 0, fmt.Errorf("document id is required")
	}

	chunks := s.chunker.ChunkDocument(doc, s.cfg.Chunking)
	if len(chunks) == 0 {
		return 0, nil
	}

	// 先清旧版本，分块结果视为不可变整组
	s.lexical.RemoveDocument(doc.ID)
	if err := s.vectors.DeleteDocument(ctx, s.cfg.Namespace, doc.ID); err != nil {
		return 0, fmt.Errorf("delete stale vectors: %w", err)
	}

	s.lexical.Index(chunks)

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	items, err := s.embedder.EmbedBatch(ctx, texts, s.cfg.EmbeddingModel)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]VectorEntry, 0, len(chunks))
	for _, item := range items {
		if item.Err != nil {
			// 单块嵌入失败不拖垮整篇，词法索引仍可检索到它
			s.logger.Warn("chunk embedding failed, lexical-only for this chunk",
				zap.String("chunk_id", chunks[item.Index].ChunkID),
				zap.Error(item.Err))
			continue
		}
		ch := chunks[item.Index]
		entries = append(entries, VectorEntry{
			ChunkID:    ch.ChunkID,
			DocumentID: ch.DocumentID,
			Text:       ch.Content,
			Values:     item.Vector.Values,
			Metadata:   ch.Metadata,
		})
	}

	if len(entries) > 0 {
		if err := s.vectors.Upsert(ctx, s.cfg.Namespace, entries); err != nil {
			return 0, fmt.Errorf("upsert vectors: %w", err)
		}
	}

	if s.recorder != nil {
		s.recorder.RecordDocumentIndexed()
	}
	s.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", len(entries)))
	return len(entries), nil
}

// DeleteDocument 从双索引删除文档。
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	s.lexical.RemoveDocument(documentID)
	return s.vectors.DeleteDocument(ctx, s.cfg.Namespace, documentID)
}

// Retrieve 执行一次检索：规划扇出、嵌入查询、混合融合。
// 查询嵌入失败时降级为纯词法检索。
func (s *Service) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}
	start := time.Now()

	topK := opts.TopK
	if topK <= 0 {
		topK = s.planner.PlanTopK(query)
	}

	var filter map[string]any
	if opts.Category != "" {
		filter = map[string]any{"category": opts.Category}
	}

	var queryVector []float64
	if !opts.LexicalOnly && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query, s.cfg.EmbeddingModel)
		if err != nil {
			s.logger.Warn("query embedding failed, lexical-only retrieval",
				zap.Error(err))
			if s.recorder != nil {
				s.recorder.RecordDegraded()
			}
		} else {
			queryVector = vec.Values
		}
	}

	results, err := s.ranker.Search(ctx, s.cfg.Namespace, query, queryVector, topK, filter)
	if err == nil && s.recorder != nil {
		mode := "hybrid"
		if len(queryVector) == 0 {
			mode = "lexical"
		}
		s.recorder.RecordRetrieval(mode, time.Since(start))
	}
	return results, err
}

// FormatContext 把检索结果拼成提示词上下文：编号引用块，按估算
// token 预算截断（约 4 字符/token），并压缩多余空白。
func (s *Service) FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	budget := s.cfg.MaxContextTokens * 4
	var b strings.Builder

	for i, res := range results {
		title := metaString(res.Metadata, "title")
		if title == "" {
			title = res.DocumentID
		}

		block := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, title, condenseWhitespace(res.Text))
		if b.Len()+len(block) > budget {
			remaining := budget - b.Len()
			if remaining > 0 {
				b.WriteString(truncateAtWord(block, remaining))
			}
			break
		}
		b.WriteString(block)
	}

	return strings.TrimRight(b.String(), "\n")
}

// GetSources 把检索结果转换为展示给调用方的引用列表，不泄露原始内容。
func (s *Service) GetSources(results []SearchResult) []Citation {
	citations := make([]Citation, 0, len(results))
	for i, res := range results {
		title := metaString(res.Metadata, "title")
		if title == "" {
			title = res.DocumentID
		}
		citation := Citation{
			Index:    i + 1,
			Title:    title,
			Score:    res.Score,
			Category: metaString(res.Metadata, "category"),
		}
		if res.Metadata != nil {
			if page, ok := res.Metadata["page"]; ok {
				citation.Page = page
			}
		}
		citations = append(citations, citation)
	}
	return citations
}

// LexicalSize 返回词法索引中的块数。
func (s *Service) LexicalSize() int { return s.lexical.Size() }

// Close 释放向量索引等驻留资源。
func (s *Service) Close() error {
	return s.vectors.Close()
}

// condenseWhitespace 压缩连续空白为单个空格，剥掉 Markdown 标题前缀。
func condenseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(strings.TrimSpace(line), "# ")
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}

// truncateAtWord 在词边界截断并追加省略号。
func truncateAtWord(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndexByte(text[:limit], ' ')
	if cut <= 0 {
		cut = limit
	}
	return text[:cut] + " …"
}
