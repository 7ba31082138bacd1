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

// TogetherProvider calls Together AI's OpenAI-shaped /v1/embeddings
// endpoint. Grounded on original_source/src/embedder.rs's Together variant,
// which targets the multilingual-e5-large-instruct model (see
// internal/validate.TogetherE5Preset).
type TogetherProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewTogetherProvider(apiKey, model string, timeout time.Duration) *TogetherProvider {
	return &TogetherProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.together.xyz/v1",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *TogetherProvider) ModelName() string { return p.model }

type togetherRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type togetherResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *TogetherProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(togetherRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "together.generate", err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "together.generate", err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, embederr.New(embederr.Transport, "together.generate", err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, embederr.New(embederr.Transport, "together.generate", err, "read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, embederr.New(embederr.RateLimited, "together.generate", nil, fmt.Sprintf("rate limited (HTTP %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		var errResp togetherResponse
		if decodeJSON(body, &errResp) == nil && errResp.Error != nil {
			return nil, embederr.New(embederr.EmbeddingProvider, "together.generate", nil,
				fmt.Sprintf("together error (HTTP %d): %s", resp.StatusCode, errResp.Error.Message))
		}
		return nil, embederr.New(embederr.EmbeddingProvider, "together.generate", nil, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var result togetherResponse
	if err := decodeJSON(body, &result); err != nil {
		return nil, embederr.New(embederr.EmbeddingProvider, "together.generate", err, "decode response")
	}
	if len(result.Data) == 0 {
		return nil, errEmptyResponse("together.generate", p.model)
	}
	return result.Data[0].Embedding, nil
}
