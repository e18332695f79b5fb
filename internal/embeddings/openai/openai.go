// Package openai implements embeddings.Provider with the OpenAI embeddings API
// or any server that speaks it.
package openai

import (
	"context"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/ai-cherry/memory-mediator/internal/embeddings"
)

// Provider wraps a go-openai client.
type Provider struct {
	client *goopenai.Client
	model  string
	dims   int
}

// New builds a provider. An empty baseURL uses the public endpoint; dims of
// zero leaves the model's native dimension.
func New(apiKey, baseURL, model string, dims int) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Provider{client: goopenai.NewClientWithConfig(cfg), model: model, dims: dims}
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embeddings.ErrEmptyText
	}
	req := goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(p.model),
	}
	if p.dims > 0 {
		req.Dimensions = p.dims
	}
	rsp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned no embedding for model %s", p.model)
	}
	return rsp.Data[0].Embedding, nil
}

// HealthPing implements health.HealthPinger by listing models.
func (p *Provider) HealthPing(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return err
}
