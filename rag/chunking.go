package rag

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/llm/tokenizer"
)

// ChunkingStrategy 分块策略（封闭集合，switch 分发，保证回退分支）。
type ChunkingStrategy string

const (
	ChunkingFixedSize     ChunkingStrategy = "fixed_size"     // 固定大小 + 重叠
	ChunkingSemantic      ChunkingStrategy = "semantic"       // 句子边界 + token 预算
	ChunkingHierarchical  ChunkingStrategy = "hierarchical"   // Markdown 标题分节
	ChunkingSlidingWindow ChunkingStrategy = "sliding_window" // 固定窗口 + 可配步长
)

// ChunkingConfig 分块配置。
type ChunkingConfig struct {
	Strategy ChunkingStrategy `json:"strategy" yaml:"strategy"`

	// ChunkSize 是 fixed/sliding/hierarchical 的块大小（字符数）。
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// Overlap 是相邻块的重叠字符数（fixed 策略）。
	Overlap int `json:"overlap" yaml:"overlap"`

	// StepSize 是 sliding_window 的推进步长（字符数），可小于 ChunkSize。
	StepSize int `json:"step_size" yaml:"step_size"`

	// TokenBudget 是 semantic 策略每块的估算 token 预算。
	TokenBudget int `json:"token_budget" yaml:"token_budget"`

	// MinChunkSize 低于该字符数的 semantic 块被丢弃。
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`

	// OverlapSentences 是 semantic 策略重复到下一块的尾句数。
	OverlapSentences int `json:"overlap_sentences" yaml:"overlap_sentences"`

	// PreserveParagraphs 为真时 semantic 策略不在段落内部分割。
	PreserveParagraphs bool `json:"preserve_paragraphs" yaml:"preserve_paragraphs"`
}

// DefaultChunkingConfig 默认分块配置。
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:         ChunkingSemantic,
		ChunkSize:        2048,
		Overlap:          200,
		StepSize:         1024,
		TokenBudget:      512,
		MinChunkSize:     20,
		OverlapSentences: 1,
	}
}

// DocumentChunker 将文档切分为可检索块。对相同输入产出确定性结果。
type DocumentChunker struct {
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewDocumentChunker 创建分块器。tokenizer 为 nil 时使用启发式估算器。
func NewDocumentChunker(tok tokenizer.Tokenizer, logger *zap.Logger) *DocumentChunker {
	if tok == nil {
		tok = tokenizer.NewEstimator("chunker", 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentChunker{
		tokenizer: tok,
		logger:    logger.With(zap.String("component", "chunker")),
	}
}

// ChunkDocument 按配置的策略分块。非默认策略失败时回退到固定大小分块，
// 并在每个块的 metadata 中记录 fallback_from，绝不向调用方抛错。
func (c *DocumentChunker) ChunkDocument(doc Document, cfg ChunkingConfig) []Chunk {
	cfg = normalizeChunkingConfig(cfg)

	if strings.TrimSpace(doc.Content) == "" {
		return []Chunk{}
	}

	var chunks []Chunk
	var err error

	switch cfg.Strategy {
	case ChunkingFixedSize:
		chunks = c.fixedSizeChunking(doc, cfg.ChunkSize, cfg.Overlap)
	case ChunkingSemantic:
		chunks, err = c.semanticChunking(doc, cfg)
	case ChunkingHierarchical:
		chunks, err = c.hierarchicalChunking(doc, cfg)
	case ChunkingSlidingWindow:
		chunks = c.slidingWindowChunking(doc, cfg.ChunkSize, cfg.StepSize)
	default:
		// 未知策略同样走回退分支
		err = fmt.Errorf("unknown chunking strategy: %s", cfg.Strategy)
	}

	if err != nil {
		c.logger.Warn("chunking strategy failed, falling back to fixed-size",
			zap.String("strategy", string(cfg.Strategy)),
			zap.String("document_id", doc.ID),
			zap.Error(err))

		chunks = c.fixedSizeChunking(doc, cfg.ChunkSize, cfg.Overlap)
		for i := range chunks {
			chunks[i].Metadata["fallback_from"] = string(cfg.Strategy)
		}
	}

	c.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("chunks", len(chunks)))

	return chunks
}

func normalizeChunkingConfig(cfg ChunkingConfig) ChunkingConfig {
	def := DefaultChunkingConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = ChunkingFixedSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 10
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = cfg.ChunkSize / 2
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.OverlapSentences < 0 {
		cfg.OverlapSentences = 0
	}
	return cfg
}

// newChunk 构造一个块并补全公共字段。
func (c *DocumentChunker) newChunk(doc Document, strategy ChunkingStrategy, seq, start, end int) Chunk {
	content := doc.Content[start:end]
	tokens, _ := c.tokenizer.CountTokens(content)

	meta := copyMetadata(doc.Metadata)
	meta["chunk_strategy"] = string(strategy)

	return Chunk{
		ChunkID:    fmt.Sprintf("%s-%s-%04d", doc.ID, strategy, seq),
		DocumentID: doc.ID,
		Content:    content,
		StartIndex: start,
		EndIndex:   end,
		TokenCount: tokens,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
}

// ====== 固定大小分块 ======

// fixedSizeChunking 以 chunkSize 字符为窗口推进，边界处重复 overlap 字符。
// 除最后一块外每块长度恰为 chunkSize。
func (c *DocumentChunker) fixedSizeChunking(doc Document, chunkSize, overlap int) []Chunk {
	content := doc.Content
	chunks := []Chunk{}
	step := chunkSize - overlap

	seq := 0
	for start := 0; start < len(content); start += step {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}

		chunk := c.newChunk(doc, ChunkingFixedSize, seq, start, end)
		if seq > 0 {
			chunk.OverlapWithPrevious = overlap
		}
		if end < len(content) {
			chunk.OverlapWithNext = overlap
		}
		chunks = append(chunks, chunk)
		seq++

		if end >= len(content) {
			break
		}
	}

	return chunks
}

// ====== 滑动窗口分块 ======

// slidingWindowChunking 与固定大小类似，但按 stepSize 推进，
// stepSize 小于 chunkSize 时产生更密集的重叠覆盖。
func (c *DocumentChunker) slidingWindowChunking(doc Document, chunkSize, stepSize int) []Chunk {
	content := doc.Content
	chunks := []Chunk{}

	seq := 0
	for start := 0; start < len(content); start += stepSize {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}

		chunk := c.newChunk(doc, ChunkingSlidingWindow, seq, start, end)
		if seq > 0 {
			ov := chunkSize - stepSize
			if ov < 0 {
				ov = 0
			}
			if ov > end-start {
				ov = end - start
			}
			chunk.OverlapWithPrevious = ov
		}
		chunks = append(chunks, chunk)
		seq++

		if end >= len(content) {
			break
		}
	}

	return chunks
}

// ====== 语义分块 ======

// sentence 记录一个句子在原文中的位置。
type sentence struct {
	start     int
	end       int
	paragraph int
}

// abbreviations 以句号结尾但不终结句子的常见缩写（小写）。
var abbreviations = map[string]bool{
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "prof.": true,
	"e.g.": true, "i.e.": true, "etc.": true, "vs.": true, "cf.": true,
	"fig.": true, "no.": true, "vol.": true, "approx.": true, "dept.": true,
}

// splitSentences 按句末标点分句，对已知缩写做防误切保护。
func splitSentences(text string) []sentence {
	var sentences []sentence
	start := 0
	paragraph := 0

	flush := func(end int) {
		for start < end && isSpaceByte(text[start]) {
			if start+1 < len(text) && text[start] == '\n' && text[start+1] == '\n' {
				paragraph++
			}
			start++
		}
		if start < end {
			sentences = append(sentences, sentence{start: start, end: end, paragraph: paragraph})
		}
		start = end
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch ch {
		case '.', '!', '?':
			if ch == '.' && isAbbreviation(text, i) {
				continue
			}
			flush(i + 1)
		case '\n':
			// 换行视为句子终结（标题、列表项等）
			flush(i)
			if i+1 < len(text) && text[i+1] == '\n' {
				paragraph++
			}
			start = i + 1
		}
	}
	flush(len(text))

	return sentences
}

// isAbbreviation 判断 text[dot] 处的句号是否属于已知缩写。
func isAbbreviation(text string, dot int) bool {
	wordStart := dot
	for wordStart > 0 && !isSpaceByte(text[wordStart-1]) {
		wordStart--
	}
	word := strings.ToLower(text[wordStart : dot+1])
	return abbreviations[word]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// semanticChunking 贪心地把句子装入 token 预算内，尾句可重叠到下一块。
func (c *DocumentChunker) semanticChunking(doc Document, cfg ChunkingConfig) ([]Chunk, error) {
	sentences := splitSentences(doc.Content)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("no sentences detected")
	}

	var chunks []Chunk
	seq := 0
	first := 0 // 当前块的首句下标
	prevEnd := -1

	emit := func(lastIdx int) {
		start := sentences[first].start
		end := sentences[lastIdx].end

		chunk := c.newChunk(doc, ChunkingSemantic, seq, start, end)
		if prevEnd > start {
			chunk.OverlapWithPrevious = prevEnd - start
		}
		if len(chunk.Content) >= cfg.MinChunkSize {
			chunks = append(chunks, chunk)
			seq++
		}
		prevEnd = end

		// 下一块从尾部重叠句开始
		first = lastIdx + 1 - cfg.OverlapSentences
		if first <= lastIdx && first < 0 {
			first = 0
		}
		if first > lastIdx+1 {
			first = lastIdx + 1
		}
		if cfg.OverlapSentences == 0 {
			first = lastIdx + 1
		}
	}

	for i := range sentences {
		if i < first {
			continue
		}
		span := doc.Content[sentences[first].start:sentences[i].end]
		tokens, err := c.tokenizer.CountTokens(span)
		if err != nil {
			return nil, err
		}

		if tokens > cfg.TokenBudget && i > first {
			// 段落保护：只在段落边界断开
			if cfg.PreserveParagraphs && sentences[i].paragraph == sentences[i-1].paragraph {
				continue
			}
			emit(i - 1)
		}
	}

	if first < len(sentences) {
		emit(len(sentences) - 1)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("all semantic chunks below min size %d", cfg.MinChunkSize)
	}
	return chunks, nil
}

// ====== 层级分块 ======

// section 是按 Markdown 标题切出的一节。
type section struct {
	level int    // 1-3；0 表示首个标题前的导言
	title string
	start int
	end   int
}

// parseSections 扫描 #/##/### 标题行，切出节区间。没有任何标题时报错，
// 由调用方回退到固定大小分块。
func parseSections(text string) ([]section, error) {
	var sections []section
	lineStart := 0
	current := section{level: 0, title: "", start: 0}
	found := false

	flushAt := func(pos int) {
		if pos > current.start {
			current.end = pos
			sections = append(sections, current)
		}
	}

	for lineStart < len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd == -1 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}

		line := text[lineStart:lineEnd]
		if level, title, ok := parseHeader(line); ok {
			found = true
			flushAt(lineStart)
			current = section{level: level, title: title, start: lineStart}
		}

		lineStart = lineEnd + 1
	}
	flushAt(len(text))

	if !found {
		return nil, fmt.Errorf("no markdown headers found")
	}
	return sections, nil
}

// parseHeader 识别 1-3 级 Markdown 标题行。
func parseHeader(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	hashes := 0
	for hashes < len(trimmed) && trimmed[hashes] == '#' {
		hashes++
	}
	if hashes < 1 || hashes > 3 {
		return 0, "", false
	}
	if hashes >= len(trimmed) || trimmed[hashes] != ' ' {
		return 0, "", false
	}
	return hashes, strings.TrimSpace(trimmed[hashes:]), true
}

// hierarchicalChunking 每节一块，携带节级别与标题；超长节递归用固定
// 大小分块切子块（子块不再做标题识别）。
func (c *DocumentChunker) hierarchicalChunking(doc Document, cfg ChunkingConfig) ([]Chunk, error) {
	sections, err := parseSections(doc.Content)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	seq := 0

	for _, sec := range sections {
		if sec.end-sec.start <= cfg.ChunkSize {
			chunk := c.newChunk(doc, ChunkingHierarchical, seq, sec.start, sec.end)
			chunk.Metadata["section_level"] = sec.level
			chunk.Metadata["section_title"] = sec.title
			chunks = append(chunks, chunk)
			seq++
			continue
		}

		// 超长节：内部用固定大小切子块，标记父节信息
		subDoc := Document{ID: doc.ID, Content: doc.Content[sec.start:sec.end], Metadata: doc.Metadata}
		subChunks := c.fixedSizeChunking(subDoc, cfg.ChunkSize, cfg.Overlap)
		for _, sub := range subChunks {
			sub.ChunkID = fmt.Sprintf("%s-%s-%04d", doc.ID, ChunkingHierarchical, seq)
			sub.StartIndex += sec.start
			sub.EndIndex += sec.start
			sub.Metadata["chunk_strategy"] = string(ChunkingHierarchical)
			sub.Metadata["parent_section_level"] = sec.level
			sub.Metadata["parent_section_title"] = sec.title
			sub.Metadata["is_child_chunk"] = true
			chunks = append(chunks, sub)
			seq++
		}
	}

	return chunks, nil
}
