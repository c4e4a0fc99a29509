package semcache

import (
	"container/list"
	"sync"
	"time"
)

// localStore 进程内 LRU 层，同时维护 bucket 索引供近似命中扫描。
type localStore struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List               // 最近使用在队首
	items   map[string]*list.Element // key → element(*Entry)
	buckets map[string]map[string]*Entry
}

func newLocalStore(maxSize int) *localStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &localStore{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		buckets: make(map[string]map[string]*Entry),
	}
}

// get 返回存活条目的副本。过期条目被惰性删除。
func (s *localStore) get(key string, now time.Time) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if now.After(entry.ExpiresAt) {
		s.removeLocked(key)
		return nil, false
	}
	s.ll.MoveToFront(elem)
	cp := *entry
	return &cp, true
}

func (s *localStore) set(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[entry.Key]; ok {
		elem.Value = entry
		s.ll.MoveToFront(elem)
	} else {
		s.items[entry.Key] = s.ll.PushFront(entry)
		for s.ll.Len() > s.maxSize {
			oldest := s.ll.Back()
			if oldest == nil {
				break
			}
			s.removeLocked(oldest.Value.(*Entry).Key)
		}
	}

	bucket, ok := s.buckets[entry.Bucket]
	if !ok {
		bucket = make(map[string]*Entry)
		s.buckets[entry.Bucket] = bucket
	}
	bucket[entry.Key] = entry
}

// bump 自增命中计数，返回更新后的副本。
func (s *localStore) bump(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	entry.HitCount++
	s.ll.MoveToFront(elem)
	cp := *entry
	return &cp, true
}

func (s *localStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

func (s *localStore) removeLocked(key string) {
	elem, ok := s.items[key]
	if !ok {
		return
	}
	entry := elem.Value.(*Entry)
	s.ll.Remove(elem)
	delete(s.items, key)
	if bucket, ok := s.buckets[entry.Bucket]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(s.buckets, entry.Bucket)
		}
	}
}

// liveEntries 返回 bucket 内存活条目的副本列表，过期条目顺带清除。
func (s *localStore) liveEntries(bucket string, now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	var expired []string
	for key, entry := range s.buckets[bucket] {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, key)
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	for _, key := range expired {
		s.removeLocked(key)
	}
	return out
}

// clearBucket 清空 bucket，返回删除条数。
func (s *localStore) clearBucket(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.buckets[bucket]))
	for key := range s.buckets[bucket] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		s.removeLocked(key)
	}
	return len(keys)
}

func (s *localStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}
