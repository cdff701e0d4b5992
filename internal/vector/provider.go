package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// Provider produces one embedding per input text, in input order. Providers
// are interchangeable behind the Service; raw output length may differ from
// the configured dimension and is normalized by the caller.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate
// limits on the OpenAI embedding endpoint.
const DefaultBatchSize = 500

// OpenAIProvider generates embeddings through the OpenAI API. Rate-limited
// batches are retried with exponential backoff; other errors fail the batch.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	batchSize int
}

// NewOpenAIProvider creates a provider for the given embedding model.
// The API key is read from OPENAI_API_KEY by the underlying client.
func NewOpenAIProvider(model string, batchSize int) *OpenAIProvider {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	client := openai.NewClient()
	return &OpenAIProvider{
		client:    &client,
		model:     model,
		batchSize: batchSize,
	}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// Embed generates embeddings for the given texts, batching requests.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32
	for i := 0; i < len(texts); i += p.batchSize {
		end := min(i+p.batchSize, len(texts))
		batch, err := p.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (p *OpenAIProvider) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: p.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // retry with backoff
			}
			return backoff.Permanent(err)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

// OllamaProvider generates embeddings through a local Ollama server.
// The embeddings endpoint accepts one prompt per request.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider creates a provider against the given base URL.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }

// Embed generates embeddings one text at a time.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  p.model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return toFloat32(parsed.Embedding), nil
}
