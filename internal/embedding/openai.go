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

const maxResponseBody = 10 * 1024 * 1024

// OpenAIProvider calls an OpenAI-compatible /v1/embeddings endpoint.
// Grounded on internal/service/embedding/embedding.go's OpenAIProvider, with
// the pgvector.Vector return type replaced by []float32 since storage
// conversion happens once, at the write-back boundary (internal/storage),
// not inside the provider.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider constructs a provider. baseURL defaults to the public
// OpenAI API; passing an override lets Azure-OpenAI-compatible or
// self-hosted OpenAI-shaped endpoints reuse this same provider.
func NewOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) ModelName() string { return p.model }

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(openAIRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "openai.generate", err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "openai.generate", err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, embederr.New(embederr.Transport, "openai.generate", err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, embederr.New(embederr.Transport, "openai.generate", err, "read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, embederr.New(embederr.RateLimited, "openai.generate", nil, fmt.Sprintf("rate limited (HTTP %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		var errResp openAIResponse
		if decodeJSON(body, &errResp) == nil && errResp.Error != nil {
			return nil, embederr.New(embederr.EmbeddingProvider, "openai.generate", nil,
				fmt.Sprintf("openai error (HTTP %d): %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message))
		}
		return nil, embederr.New(embederr.EmbeddingProvider, "openai.generate", nil, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var result openAIResponse
	if err := decodeJSON(body, &result); err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "openai.generate", err, "decode response")
	}
	if len(result.Data) == 0 {
		return nil, errEmptyResponse("openai.generate", p.model)
	}
	return result.Data[0].Embedding, nil
}
