package semcache

import "sync/atomic"

// Recorder 对接外部指标系统（Prometheus 等）。实现必须并发安全。
type Recorder interface {
	CacheHit(kind string) // "exact" 或 "semantic"
	CacheMiss()
	CacheStored()
	CacheRejected(reason string)
}

// Stats 缓存计数快照。
type Stats struct {
	ExactHits    uint64 `json:"exact_hits"`
	SemanticHits uint64 `json:"semantic_hits"`
	Misses       uint64 `json:"misses"`
	Stored       uint64 `json:"stored"`

	RejectedPII             uint64 `json:"rejected_pii"`
	RejectedPersonalization uint64 `json:"rejected_personalization"`
	RejectedQuality         uint64 `json:"rejected_quality"`
	RejectedDetectorDown    uint64 `json:"rejected_detector_down"`
	RejectedDuplicate       uint64 `json:"rejected_duplicate"`
}

// counters 内部原子计数。
type counters struct {
	exactHits    atomic.Uint64
	semanticHits atomic.Uint64
	misses       atomic.Uint64
	stored       atomic.Uint64

	rejected map[RejectReason]*atomic.Uint64
}

func newCounters() *counters {
	c := &counters{rejected: make(map[RejectReason]*atomic.Uint64)}
	for _, reason := range []RejectReason{
		RejectPII, RejectPersonalization, RejectQuality, RejectDetectorDown, RejectDuplicate,
	} {
		c.rejected[reason] = &atomic.Uint64{}
	}
	return c
}

func (c *counters) reject(reason RejectReason) {
	if ctr, ok := c.rejected[reason]; ok {
		ctr.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		ExactHits:               c.exactHits.Load(),
		SemanticHits:            c.semanticHits.Load(),
		Misses:                  c.misses.Load(),
		Stored:                  c.stored.Load(),
		RejectedPII:             c.rejected[RejectPII].Load(),
		RejectedPersonalization: c.rejected[RejectPersonalization].Load(),
		RejectedQuality:         c.rejected[RejectQuality].Load(),
		RejectedDetectorDown:    c.rejected[RejectDetectorDown].Load(),
		RejectedDuplicate:       c.rejected[RejectDuplicate].Load(),
	}
}
