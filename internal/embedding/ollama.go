package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iskng/embed-star/internal/embederr"
)

// OllamaProvider calls a local Ollama server's POST /api/embed. Grounded on
// internal/service/embedding/ollama.go's OllamaProvider; batch support and
// the word-boundary truncation fallback are not reused here since the
// composing Embedder (embedder.go) already truncates once, before any
// provider is reached.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) ModelName() string { return p.model }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *OllamaProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "ollama.generate", err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "ollama.generate", err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, embederr.New(embederr.Transport, "ollama.generate", err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, embederr.New(embederr.EmbeddingProvider, "ollama.generate", nil, fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "ollama.generate", err, "decode response")
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, errEmptyResponse("ollama.generate", p.model)
	}
	return result.Embeddings[0], nil
}
