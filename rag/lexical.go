package rag

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// LexicalConfig BM25 词法索引配置。
type LexicalConfig struct {
	K1 float64 `json:"k1" yaml:"k1"`
	B  float64 `json:"b" yaml:"b"`

	// EnableSpelling 为真时对零命中词做编辑距离 1 的词表纠错。
	EnableSpelling bool `json:"enable_spelling" yaml:"enable_spelling"`

	// Synonyms 查询侧同义词扩展表，默认为空（不扩展）。
	Synonyms map[string][]string `json:"synonyms" yaml:"synonyms"`
}

// DefaultLexicalConfig 经典 BM25 参数。
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{K1: 1.2, B: 0.75}
}

// englishStopwords 索引和查询两侧都过滤的停用词。
var englishStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "not": true,
	"it": true, "its": true, "this": true, "that": true, "with": true,
	"as": true, "by": true, "from": true, "but": true, "do": true, "does": true,
	"how": true, "what": true, "which": true, "can": true, "will": true,
}

// indexedChunk 倒排索引中一个块的驻留信息。
type indexedChunk struct {
	chunkID    string
	documentID string
	text       string
	length     int // 过滤停用词后的词数
	metadata   map[string]any
}

// posting 一个词在一个块中的出现信息。
type posting struct {
	chunkID string
	tf      int
}

// BM25Index 内存 BM25 倒排索引。所有方法并发安全。
type BM25Index struct {
	mu     sync.RWMutex
	cfg    LexicalConfig
	logger *zap.Logger

	chunks    map[string]*indexedChunk
	postings  map[string][]posting // term → 包含该词的块（按插入序）
	docChunks map[string][]string  // documentID → chunkIDs
	totalLen  int
}

// NewBM25Index 创建空索引。
func NewBM25Index(cfg LexicalConfig, logger *zap.Logger) *BM25Index {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = 0.75
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BM25Index{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "bm25")),
		chunks:    make(map[string]*indexedChunk),
		postings:  make(map[string][]posting),
		docChunks: make(map[string][]string),
	}
}

// tokenizeText 小写化并按非字母数字切词，过滤停用词与单字符词。
func tokenizeText(text string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if len(tok) < 2 || englishStopwords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Index 把块加入索引。同一 chunkID 重复加入时先移除旧条目。
func (idx *BM25Index) Index(chunks []Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, ch := range chunks {
		if _, exists := idx.chunks[ch.ChunkID]; exists {
			idx.removeChunkLocked(ch.ChunkID)
		}

		tokens := tokenizeText(ch.Content)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}

		idx.chunks[ch.ChunkID] = &indexedChunk{
			chunkID:    ch.ChunkID,
			documentID: ch.DocumentID,
			text:       ch.Content,
			length:     len(tokens),
			metadata:   ch.Metadata,
		}
		idx.docChunks[ch.DocumentID] = append(idx.docChunks[ch.DocumentID], ch.ChunkID)
		idx.totalLen += len(tokens)

		for term, count := range tf {
			idx.postings[term] = append(idx.postings[term], posting{chunkID: ch.ChunkID, tf: count})
		}
	}
}

// RemoveDocument 移除一个文档的全部块。重建分块时整组替换。
func (idx *BM25Index) RemoveDocument(documentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, chunkID := range idx.docChunks[documentID] {
		idx.removeChunkLocked(chunkID)
	}
	delete(idx.docChunks, documentID)
}

func (idx *BM25Index) removeChunkLocked(chunkID string) {
	ch, ok := idx.chunks[chunkID]
	if !ok {
		return
	}
	idx.totalLen -= ch.length
	delete(idx.chunks, chunkID)

	for term, list := range idx.postings {
		kept := list[:0]
		for _, p := range list {
			if p.chunkID != chunkID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = kept
		}
	}
}

// Size 返回索引中的块数。
func (idx *BM25Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Search 对查询做 BM25 打分，返回按分数降序的前 topK 条。
// filter 非空时只保留 metadata 完全匹配的块。
func (idx *BM25Index) Search(query string, topK int, filter map[string]any) []SearchResult {
	if topK <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.chunks) == 0 {
		return nil
	}

	terms := idx.expandQuery(tokenizeText(query))
	if len(terms) == 0 {
		return nil
	}

	N := float64(len(idx.chunks))
	avgLen := float64(idx.totalLen) / N
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		list := idx.postings[term]
		if len(list) == 0 && idx.cfg.EnableSpelling {
			if corrected := idx.correctTermLocked(term); corrected != "" {
				list = idx.postings[corrected]
			}
		}
		if len(list) == 0 {
			continue
		}

		n := float64(len(list))
		idf := math.Log((N-n+0.5)/(n+0.5) + 1)

		for _, p := range list {
			dl := float64(idx.chunks[p.chunkID].length)
			tf := float64(p.tf)
			scores[p.chunkID] += idf * (tf * (idx.cfg.K1 + 1)) / (tf + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*dl/avgLen))
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for chunkID, score := range scores {
		ch := idx.chunks[chunkID]
		if !matchesFilter(ch.metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    chunkID,
			DocumentID: ch.documentID,
			Text:       ch.text,
			Score:      score,
			BM25Score:  score,
			Metadata:   ch.metadata,
		})
	}

	// 同分时按 chunkID 保证确定性排序
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// expandQuery 追加配置的同义词（去重，保持原词在前）。
func (idx *BM25Index) expandQuery(terms []string) []string {
	if len(idx.cfg.Synonyms) == 0 {
		return terms
	}

	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range terms {
		for _, syn := range idx.cfg.Synonyms[t] {
			syn = strings.ToLower(syn)
			if !seen[syn] {
				seen[syn] = true
				out = append(out, syn)
			}
		}
	}
	return out
}

// correctTermLocked 在词表中找编辑距离为 1 的替代词，多个候选时取
// 文档频率最高者。
func (idx *BM25Index) correctTermLocked(term string) string {
	best := ""
	bestDF := 0
	for candidate, list := range idx.postings {
		if withinEditDistance1(term, candidate) && len(list) > bestDF {
			best = candidate
			bestDF = len(list)
		}
	}
	return best
}

// withinEditDistance1 判断两词编辑距离是否恰为 1（插入/删除/替换）。
func withinEditDistance1(a, b string) bool {
	if a == b {
		return false
	}
	la, lb := len(a), len(b)
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	if lb-la > 1 {
		return false
	}

	if la == lb {
		diff := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diff++
			}
		}
		return diff == 1
	}

	// b 比 a 多一个字符
	i, j := 0, 0
	skipped := false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}

// matchesFilter 要求 filter 的每个键在 metadata 中存在且相等。
func matchesFilter(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		if meta == nil || meta[k] != want {
			return false
		}
	}
	return true
}
