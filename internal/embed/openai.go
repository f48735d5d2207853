package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// OpenAI defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
)

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	BaseURL    string        // API base URL (default: DefaultOpenAIBaseURL)
	Model      string        // Model name (default: DefaultOpenAIModel)
	APIKey     string        // Bearer token; falls back to KeyEnv
	KeyEnv     string        // Env var holding the key (default: OPENAI_API_KEY)
	Dimensions int           // Expected dimension; 0 = accept provider default
	BatchSize  int           // Texts per request
	Timeout    time.Duration // Per-request timeout
	Retry      RetryConfig   // Backoff policy
}

// OpenAIEmbedder generates embeddings via an OpenAI-compatible
// /embeddings endpoint.
type OpenAIEmbedder struct {
	client *http.Client
	config OpenAIConfig
	apiKey string

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAI embedder. The API key is required;
// it is read from cfg.APIKey or the configured environment variable.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.KeyEnv == "" {
		cfg.KeyEnv = "OPENAI_API_KEY"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(cfg.KeyEnv)
	}
	if key == "" {
		return nil, forerrors.Validation("openai embedder requires an API key (set %s)", cfg.KeyEnv)
	}

	return &OpenAIEmbedder{
		client: &http.Client{},
		config: cfg,
		apiKey: key,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Failed sub-batches
// degrade to absent slots after retry exhaustion.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, len(texts))

	indices := make([]int, 0, len(texts))
	pending := make([]string, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		indices = append(indices, i)
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))
		batch := pending[start:end]

		var vecs [][]float32
		err := WithRetry(ctx, e.config.Retry, func() error {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			var reqErr error
			vecs, reqErr = e.request(reqCtx, batch)
			return reqErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("openai_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			continue
		}
		for i, vec := range vecs {
			if vec == nil {
				continue
			}
			results[indices[start+i]] = NormalizeVector(vec)
		}
	}

	return results, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{
		Model:      e.config.Model,
		Input:      input,
		Dimensions: e.config.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, forerrors.New(forerrors.KindProviderRateLimited,
			"openai rate limited, retry-after %q", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may reorder; index is authoritative.
	vecs := make([][]float32, len(input))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(input) {
			continue
		}
		vecs[item.Index] = item.Embedding
	}

	e.mu.Lock()
	if e.dims == 0 {
		for _, v := range vecs {
			if v != nil {
				e.dims = len(v)
				break
			}
		}
	}
	e.mu.Unlock()

	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return "openai/" + e.config.Model
}

// Available reports readiness. The key was checked at construction; a
// network probe is skipped to avoid burning quota.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases pooled connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
