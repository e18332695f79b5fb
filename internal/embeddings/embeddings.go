// Package embeddings adapts the external embedding model. The mediator calls
// it for searchable records stored without a vector and for text queries.
package embeddings

import (
	"context"
	"errors"
)

// Provider produces vector representations for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("embeddings: empty text")
