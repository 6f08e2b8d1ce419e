package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// Default OpenAI configuration.
const (
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"
	DefaultOpenAIModel    = "text-embedding-3-small"

	// text-embedding-3-small emits 1536-dimensional vectors.
	defaultOpenAIDimensions = 1536
)

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// Endpoint is the API base URL (default: https://api.openai.com/v1).
	// Any OpenAI-compatible server works.
	Endpoint string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimensions is the expected vector width (default: 1536).
	Dimensions int

	// Timeout is the per-call timeout (default: 10s).
	Timeout time.Duration
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *http.Client
	config OpenAIConfig
}

// openaiEmbedRequest is the /embeddings request body.
type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openaiEmbedResponse is the /embeddings response body.
type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, cerrors.ConfigError("openai embedder requires an API key", nil)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultOpenAIDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &OpenAIEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. The API may return
// entries out of order; results are realigned by index.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, cerrors.ValidationError(
			fmt.Sprintf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}

	body, err := json.Marshal(openaiEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := e.config.Endpoint + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, cerrors.NetworkError("openai embed request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, cerrors.New(cerrors.ErrCodeProviderRateLimit,
				fmt.Sprintf("openai rate limited: %s", string(respBody)), nil)
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, cerrors.ConfigError(
				fmt.Sprintf("openai auth failed (%d): check EMBEDDING_API_KEY", resp.StatusCode), nil)
		default:
			return nil, cerrors.NetworkError(
				fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, string(respBody)), nil)
		}
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs",
			len(result.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, cerrors.DimensionMismatch(e.config.Dimensions, len(d.Embedding))
		}
		out[d.Index] = d.Embedding
	}

	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if the endpoint accepts requests.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
