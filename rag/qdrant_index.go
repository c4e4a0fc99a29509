package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/llm"
)

// QdrantConfig Qdrant 远程向量索引配置。
type QdrantConfig struct {
	Host       string        `json:"host" yaml:"host"`
	Port       int           `json:"port" yaml:"port"`
	BaseURL    string        `json:"base_url,omitempty" yaml:"base_url"`
	APIKey     string        `json:"api_key,omitempty" yaml:"api_key"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	AutoCreateCollection bool   `json:"auto_create_collection,omitempty" yaml:"auto_create_collection"`
	Distance             string `json:"distance,omitempty" yaml:"distance"`       // Cosine（默认）、Dot、Euclid
	VectorSize           int    `json:"vector_size,omitempty" yaml:"vector_size"` // 0 时取首批向量的维度
}

// QdrantIndex 基于 Qdrant REST API 的 VectorIndex 实现。
// 所有记录存在单个 collection 中，namespace 作为 payload 字段过滤。
// 后端不可用时返回 llm.ErrIndexUnavailable，供混合检索降级。
type QdrantIndex struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantIndex 创建 Qdrant 向量索引。
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_index")),
	}
}

var qdrantNamespace = uuid.MustParse("8f6c1f7e-2b9d-4a31-9c56-0e4d7a2b9f13")

// qdrantPointID Qdrant 的 point ID 必须是 UUID，从 chunkID 派生稳定 UUID。
func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(chunkID)).String()
}

// unavailable 把传输层错误收敛为索引不可用错误。
func (s *QdrantIndex) unavailable(err error) *llm.Error {
	return &llm.Error{
		Code:      llm.ErrIndexUnavailable,
		Message:   fmt.Sprintf("qdrant: %v", err),
		Retryable: true,
		Provider:  "qdrant",
	}
}

func (s *QdrantIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if vectorSize <= 0 {
		return llm.Invalid("qdrant vector size must be > 0")
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}

		// collection 已存在时返回 409
		err := s.doJSON(ctx, http.MethodPut, "/collections/"+url.PathEscape(s.cfg.Collection), body, nil)
		if err != nil && !isConflict(err) {
			s.ensureErr = err
		}
	})

	return s.ensureErr
}

type qdrantStatusError struct {
	status int
	body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant request failed: status=%d body=%s", e.status, e.body)
}

func isConflict(err error) bool {
	if se, ok := err.(*qdrantStatusError); ok {
		return se.status == http.StatusConflict
	}
	return false
}

func (s *QdrantIndex) doJSON(ctx context.Context, method, path string, in, out any) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return llm.Invalid("qdrant collection is required")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return s.unavailable(fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)))
		}
		return &qdrantStatusError{status: resp.StatusCode, body: string(raw)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert 写入记录。payload 携带 chunk_id/document_id/text/namespace/metadata。
func (s *QdrantIndex) Upsert(ctx context.Context, namespace string, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	vectorSize := s.cfg.VectorSize
	for i, e := range entries {
		if e.ChunkID == "" {
			return llm.Invalid(fmt.Sprintf("entry[%d] has empty chunk id", i))
		}
		if len(e.Values) == 0 {
			return llm.Invalid(fmt.Sprintf("entry[%d] has no vector values", i))
		}
		if vectorSize == 0 {
			vectorSize = len(e.Values)
		}
		if len(e.Values) != vectorSize {
			return llm.Invalid(fmt.Sprintf("entry[%d] dimension mismatch: got=%d want=%d", i, len(e.Values), vectorSize))
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, qdrantPoint{
			ID:     qdrantPointID(namespace + "/" + e.ChunkID),
			Vector: e.Values,
			Payload: map[string]any{
				"chunk_id":    e.ChunkID,
				"document_id": e.DocumentID,
				"text":        e.Text,
				"namespace":   namespace,
				"metadata":    e.Metadata,
			},
		})
	}

	req := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed",
		zap.String("namespace", namespace),
		zap.Int("count", len(entries)))
	return nil
}

// qdrantFilter 组装 namespace 与 metadata 等值过滤。
func qdrantFilter(namespace string, filter map[string]any) map[string]any {
	must := []map[string]any{
		{"key": "namespace", "match": map[string]any{"value": namespace}},
	}
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   "metadata." + k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

// Search 在 Qdrant 中做近邻检索。
func (s *QdrantIndex) Search(ctx context.Context, namespace string, query []float64, topK int, filter map[string]any) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, llm.Invalid("empty query vector")
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	req := struct {
		Vector      []float64      `json:"vector"`
		Limit       int            `json:"limit"`
		Filter      map[string]any `json:"filter"`
		WithPayload bool           `json:"with_payload"`
	}{
		Vector:      query,
		Limit:       topK,
		Filter:      qdrantFilter(namespace, filter),
		WithPayload: true,
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for i, r := range resp.Result {
		sr := SearchResult{
			Score:       r.Score,
			VectorScore: r.Score,
			Rank:        i + 1,
		}
		if r.Payload != nil {
			sr.ChunkID = metaString(r.Payload, "chunk_id")
			sr.DocumentID = metaString(r.Payload, "document_id")
			sr.Text = metaString(r.Payload, "text")
			if m, ok := r.Payload["metadata"].(map[string]any); ok {
				sr.Metadata = m
			}
		}
		if sr.ChunkID == "" {
			sr.ChunkID = fmt.Sprint(r.ID)
		}
		out = append(out, sr)
	}
	return out, nil
}

// DeleteDocument 按 namespace + document_id 的 payload 过滤删除。
func (s *QdrantIndex) DeleteDocument(ctx context.Context, namespace, documentID string) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "namespace", "match": map[string]any{"value": namespace}},
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(s.cfg.Collection))
	return s.doJSON(ctx, http.MethodPost, path, req, nil)
}

// Count 返回命名空间内的记录数。
func (s *QdrantIndex) Count(ctx context.Context, namespace string) (int, error) {
	req := map[string]any{
		"exact":  true,
		"filter": qdrantFilter(namespace, nil),
	}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close 关闭空闲连接。
func (s *QdrantIndex) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
