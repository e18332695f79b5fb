// Package ollama implements embeddings.Provider against a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/embeddings"
)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Provider calls POST /api/embeddings.
type Provider struct {
	model  string
	client *resty.Client
	log    zerolog.Logger
}

// New returns a provider for model at baseURL. A bare host:port gets http://.
func New(baseURL, model string, log zerolog.Logger) *Provider {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Provider{model: model, client: client, log: log.With().Str("component", "ollama").Logger()}
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embeddings.ErrEmptyText
	}
	vec, status, err := p.embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	// A missing model answers 404; pull once and retry.
	if status == http.StatusNotFound {
		p.pull(ctx)
		vec, _, err = p.embed(ctx, text)
	}
	return vec, err
}

func (p *Provider) embed(ctx context.Context, text string) ([]float32, int, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&embedRequest{Model: p.model, Prompt: text}).
		Post("/api/embeddings")
	if err != nil {
		return nil, 0, fmt.Errorf("ollama embeddings: %w", err)
	}
	var out embedResponse
	if jerr := json.Unmarshal(resp.Body(), &out); jerr != nil && resp.IsSuccess() {
		return nil, resp.StatusCode(), fmt.Errorf("ollama embeddings decode: %w", jerr)
	}
	if !resp.IsSuccess() {
		if out.Error != "" {
			return nil, resp.StatusCode(), fmt.Errorf("ollama embeddings status %d: %s", resp.StatusCode(), out.Error)
		}
		return nil, resp.StatusCode(), fmt.Errorf("ollama embeddings status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return nil, resp.StatusCode(), fmt.Errorf("ollama embeddings error: %s", out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, resp.StatusCode(), fmt.Errorf("ollama returned an empty embedding for model %s", p.model)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, resp.StatusCode(), nil
}

// pull asks the server to fetch the model; failures are only logged.
func (p *Provider) pull(ctx context.Context) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"name": p.model, "stream": false}).
		Post("/api/pull")
	if err != nil {
		p.log.Warn().Err(err).Str("model", p.model).Msg("model pull failed")
		return
	}
	if !resp.IsSuccess() {
		p.log.Warn().Int("status", resp.StatusCode()).Str("model", p.model).Msg("model pull rejected")
		return
	}
	p.log.Info().Str("model", p.model).Msg("model pulled")
}

// HealthPing implements health.HealthPinger. It checks /api/tags for the
// configured model.
func (p *Provider) HealthPing(ctx context.Context) error {
	var tags tagsResponse
	resp, err := p.client.R().SetContext(ctx).SetResult(&tags).Get("/api/tags")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode())
	}
	want := baseModelName(p.model)
	for _, m := range tags.Models {
		if baseModelName(m.Name) == want {
			return nil
		}
	}
	return fmt.Errorf("model %s not found", want)
}

// baseModelName strips the tag, so "nomic-embed-text:latest" matches "nomic-embed-text".
func baseModelName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
