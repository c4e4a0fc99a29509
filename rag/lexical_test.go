package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func lexChunk(id, docID, text string, meta map[string]any) Chunk {
	return Chunk{ChunkID: id, DocumentID: docID, Content: text, Metadata: meta}
}

func TestBM25RanksTopicalMatchFirst(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{
		lexChunk("c1", "d1", "Python decorators wrap functions. Python decorators are applied with the at sign.", nil),
		lexChunk("c2", "d2", "JavaScript closures capture lexical scope in functions.", nil),
		lexChunk("c3", "d3", "Cooking pasta requires boiling water.", nil),
	})

	results := idx.Search("python decorators", 3, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestBM25StopwordsIgnored(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{lexChunk("c1", "d1", "the quick brown fox", nil)})

	// 纯停用词查询不命中任何块
	assert.Empty(t, idx.Search("the is of and", 5, nil))
	assert.NotEmpty(t, idx.Search("quick fox", 5, nil))
}

func TestBM25EmptyIndexAndEmptyQuery(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	assert.Empty(t, idx.Search("anything", 5, nil))

	idx.Index([]Chunk{lexChunk("c1", "d1", "some indexed content", nil)})
	assert.Empty(t, idx.Search("", 5, nil))
	assert.Empty(t, idx.Search("!!! ???", 5, nil))
}

func TestBM25TopKCap(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	for i := 0; i < 20; i++ {
		idx.Index([]Chunk{lexChunk(fmt.Sprintf("c%02d", i), "d1", "shared keyword payload", nil)})
	}

	results := idx.Search("keyword", 5, nil)
	assert.Len(t, results, 5)
}

func TestBM25MetadataFilter(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{
		lexChunk("c1", "d1", "billing invoice details", map[string]any{"category": "billing"}),
		lexChunk("c2", "d2", "billing support contact", map[string]any{"category": "support"}),
	})

	results := idx.Search("billing", 5, map[string]any{"category": "billing"})
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestBM25RemoveDocument(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{
		lexChunk("c1", "d1", "alpha content", nil),
		lexChunk("c2", "d1", "alpha more content", nil),
		lexChunk("c3", "d2", "alpha other document", nil),
	})
	require.Equal(t, 3, idx.Size())

	idx.RemoveDocument("d1")
	assert.Equal(t, 1, idx.Size())

	results := idx.Search("alpha", 10, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "c3", results[0].ChunkID)
}

func TestBM25ReindexReplacesChunk(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{lexChunk("c1", "d1", "original wording about kubernetes", nil)})
	idx.Index([]Chunk{lexChunk("c1", "d1", "replacement wording about terraform", nil)})

	assert.Equal(t, 1, idx.Size())
	assert.Empty(t, idx.Search("kubernetes", 5, nil))
	assert.NotEmpty(t, idx.Search("terraform", 5, nil))
}

func TestBM25SpellingCorrection(t *testing.T) {
	cfg := DefaultLexicalConfig()
	cfg.EnableSpelling = true
	idx := NewBM25Index(cfg, nil)
	idx.Index([]Chunk{lexChunk("c1", "d1", "postgres replication setup guide", nil)})

	// 缺一个字母仍能命中
	results := idx.Search("replicaton", 5, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)

	// 默认关闭时不纠错
	off := NewBM25Index(DefaultLexicalConfig(), nil)
	off.Index([]Chunk{lexChunk("c1", "d1", "postgres replication setup guide", nil)})
	assert.Empty(t, off.Search("replicaton", 5, nil))
}

func TestBM25SynonymExpansion(t *testing.T) {
	cfg := DefaultLexicalConfig()
	cfg.Synonyms = map[string][]string{"car": {"automobile"}}
	idx := NewBM25Index(cfg, nil)
	idx.Index([]Chunk{lexChunk("c1", "d1", "automobile maintenance schedule", nil)})

	results := idx.Search("car maintenance", 5, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestWithinEditDistance1(t *testing.T) {
	assert.True(t, withinEditDistance1("cat", "cut"))
	assert.True(t, withinEditDistance1("cat", "cats"))
	assert.True(t, withinEditDistance1("cats", "cat"))
	assert.False(t, withinEditDistance1("cat", "cat"))
	assert.False(t, withinEditDistance1("cat", "dog"))
	assert.False(t, withinEditDistance1("cat", "category"))
}

// 词频单调性：同一查询词出现次数更多的块得分不更低（块长相同时）。
func TestBM25TermFrequencyMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repeats := rapid.IntRange(2, 8).Draw(t, "repeats")

		idx := NewBM25Index(DefaultLexicalConfig(), nil)
		low := "signal " + strings.TrimSpace(strings.Repeat("padding ", repeats-1))
		high := strings.TrimSpace(strings.Repeat("signal ", repeats))
		idx.Index([]Chunk{
			lexChunk("low", "d1", low, nil),
			lexChunk("high", "d2", high, nil),
		})

		results := idx.Search("signal", 2, nil)
		if len(results) != 2 {
			t.Fatalf("expected both chunks scored, got %d", len(results))
		}
		if results[0].ChunkID != "high" {
			t.Fatalf("higher term frequency should rank first, got %s", results[0].ChunkID)
		}
	})
}

func TestBM25DeterministicTieBreak(t *testing.T) {
	idx := NewBM25Index(DefaultLexicalConfig(), nil)
	idx.Index([]Chunk{
		lexChunk("b-chunk", "d1", "identical twin content", nil),
		lexChunk("a-chunk", "d2", "identical twin content", nil),
	})

	for i := 0; i < 5; i++ {
		results := idx.Search("twin", 2, nil)
		require.Len(t, results, 2)
		assert.Equal(t, "a-chunk", results[0].ChunkID)
	}
}
