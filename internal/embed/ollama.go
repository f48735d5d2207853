package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "embeddinggemma"
	ollamaPoolSize     = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string        // API endpoint (default: DefaultOllamaHost)
	Model      string        // Model name (default: DefaultOllamaModel)
	Dimensions int           // Expected dimension; 0 = detect from first embedding
	BatchSize  int           // Texts per request (default: DefaultBatchSize)
	Timeout    time.Duration // Per-request timeout (default: DefaultTimeout)
	Retry      RetryConfig   // Backoff policy (default: DefaultRetryConfig)

	// SkipHealthCheck skips the startup probe, for tests with a stub server.
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings via Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder and probes the endpoint
// unless SkipHealthCheck is set. The probe also detects the model's
// dimension when Dimensions is zero.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
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

	// Short idle timeout: CLI invocations are short-lived and connections
	// should drop promptly after interrupt.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		// No client-level timeout: per-request contexts carry the deadline
		// so cold-model requests can use the longer budget.
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()
		vecs, err := e.request(probeCtx, []string{"forest"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("ollama health check: %w", err)
		}
		if len(vecs) == 1 && e.dims == 0 {
			e.dims = len(vecs[0])
		}
		if e.dims != 0 && len(vecs) == 1 && len(vecs[0]) != e.dims {
			transport.CloseIdleConnections()
			return nil, forerrors.New(forerrors.KindDimensionMismatch,
				"ollama model %s produces dimension %d, configured %d",
				cfg.Model, len(vecs[0]), e.dims)
		}
	}

	return e, nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// provider-sized sub-batches. Empty texts yield absent slots without a
// provider call; provider failure after retries yields absent for the
// whole failing sub-batch.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, len(texts))

	// Collect non-empty texts; empty input embeds to absent.
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
			// Degrade to absent for this sub-batch; the caller scores
			// without embeddings and a later rescore can repair edges.
			slog.Warn("ollama_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			continue
		}
		if len(vecs) != len(batch) {
			slog.Warn("ollama_batch_short_response",
				slog.Int("want", len(batch)), slog.Int("got", len(vecs)))
			continue
		}
		for i, vec := range vecs {
			results[indices[start+i]] = NormalizeVector(vec)
		}
	}

	return results, nil
}

// request performs one /api/embed call.
func (e *OllamaEmbedder) request(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, forerrors.New(forerrors.KindProviderRateLimited,
			"ollama rate limited (%d texts)", len(input))
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return "ollama/" + e.config.Model
}

// Available probes the endpoint with a short timeout.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
