// Package embedding implements the polymorphic embedder (C7) from spec.md
// §4.7: a provider abstraction over three concrete HTTP shapes (Ollama-like,
// OpenAI-like, Together-like), composed with text truncation, an inner
// retry loop, and an optional validation hook. Grounded on
// internal/service/embedding/{embedding,ollama}.go (the OpenAI and Ollama
// shapes) and original_source/src/embedder.rs (the Together shape and the
// truncate/retry/validate composition).
package embedding

import (
	"context"
	"encoding/json"

	"github.com/iskng/embed-star/internal/embederr"
)

// Provider is a single model endpoint capable of producing one embedding
// per call. Implementations must not retry internally — retrying is the
// composing Embedder's job (spec.md §4.7).
type Provider interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// decodeJSON is a small shared helper used by all three provider variants.
func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// errEmptyResponse is returned by any provider variant whose response
// envelope contained zero embeddings.
func errEmptyResponse(op, model string) error {
	return embederr.New(embederr.EmbeddingProvider, op, nil, "provider returned no embeddings for model "+model)
}
