package embedding

import (
	"context"
	"encoding/json"
	"time"
)

// CohereProvider 使用 Cohere API 实现嵌入。
type CohereProvider struct {
	*BaseProvider
	cfg CohereConfig
}

// NewCohereProvider 创建 Cohere 嵌入提供商。
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "embed-v3.5"
	}

	return &CohereProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "cohere-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: 1024,
			MaxBatch:   96,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

type cohereEmbedRequest struct {
	Texts         []string `json:"texts"`
	Model         string   `json:"model"`
	InputType     string   `json:"input_type"`         // search_query, search_document
	Truncate      string   `json:"truncate,omitempty"` // NONE, START, END
	EmbeddingType []string `json:"embedding_types,omitempty"`
}

type cohereEmbedResponse struct {
	ID         string `json:"id"`
	Embeddings struct {
		Float [][]float64 `json:"float"`
	} `json:"embeddings"`
	Meta struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Embed 使用 Cohere 生成嵌入。
func (p *CohereProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	model := ChooseModel(req.Model, p.cfg.Model, "embed-v3.5")

	body := cohereEmbedRequest{
		Texts:         req.Input,
		Model:         model,
		EmbeddingType: []string{"float"},
	}

	switch req.InputType {
	case InputTypeQuery:
		body.InputType = "search_query"
	default:
		body.InputType = "search_document"
	}

	if req.Truncate {
		body.Truncate = "END"
	}

	respBody, err := p.DoRequest(ctx, "POST", "/v2/embed", body, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var cResp cohereEmbedResponse
	if err := json.Unmarshal(respBody, &cResp); err != nil {
		return nil, err
	}

	embeddings := make([]Data, len(cResp.Embeddings.Float))
	for i, vec := range cResp.Embeddings.Float {
		embeddings[i] = Data{Index: i, Embedding: vec}
	}

	tokens := cResp.Meta.BilledUnits.InputTokens
	return &Response{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: embeddings,
		Usage: Usage{
			PromptTokens: tokens,
			TotalTokens:  tokens,
			Cost:         estimateCost(model, tokens),
		},
		CreatedAt: time.Now(),
	}, nil
}
