package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("ragcore", reg, nil), reg
}

func TestEmbeddingRequestStatuses(t *testing.T) {
	c, _ := newTestCollector(t)

	c.EmbeddingRequest("openai", false, nil)
	c.EmbeddingRequest("openai", true, nil)
	c.EmbeddingRequest("openai", false, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.embeddingRequestsTotal.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.embeddingRequestsTotal.WithLabelValues("openai", "cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.embeddingRequestsTotal.WithLabelValues("openai", "error")))
}

func TestEmbeddingUsage(t *testing.T) {
	c, _ := newTestCollector(t)

	c.EmbeddingUsage("cohere", "embed-v4.0", 120, 0.00002)
	c.EmbeddingUsage("cohere", "embed-v4.0", 80, 0.00001)

	assert.Equal(t, 200.0, testutil.ToFloat64(c.embeddingTokensUsed.WithLabelValues("cohere", "embed-v4.0")))
	assert.InDelta(t, 0.00003, testutil.ToFloat64(c.embeddingCost.WithLabelValues("cohere", "embed-v4.0")), 1e-12)
}

func TestCacheCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.CacheHit("exact")
	c.CacheHit("semantic")
	c.CacheMiss()
	c.CacheStored()
	c.CacheRejected("pii")
	c.CacheRejected("pii")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("semantic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheStored))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheRejected.WithLabelValues("pii")))
}

func TestRetrievalMetrics(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordRetrieval("hybrid", 25*time.Millisecond)
	c.RecordDegraded()
	c.RecordDocumentIndexed()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ragcore_retrieval_duration_seconds"])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrievalDegraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.documentsIndexed))
}
