// Package embed provides embedding provider adapters for Forest.
//
// Providers map text to fixed-dimension unit vectors. "Absent" is a
// first-class result, represented as a nil vector: the none provider
// always returns it, remote providers return it after retry exhaustion,
// and empty text embeds to absent. Callers proceed with embedding-less
// scoring when a vector is absent.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout defaults shared by the HTTP providers.
const (
	// DefaultBatchSize is texts per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the per-request timeout for warm models.
	DefaultTimeout = 60 * time.Second

	// DefaultColdTimeout covers the first request, when a local model may
	// still be loading.
	DefaultColdTimeout = 180 * time.Second

	// DefaultMaxRetries is retry attempts after the initial request.
	DefaultMaxRetries = 3
)

// StaticDimensions is the dimension of the hash-based static embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text. A nil vector with a
	// nil error means the embedding is absent.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. Result slots may
	// be nil (absent) independently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the provider+model identifier persisted with each
	// embedding.
	ModelName() string

	// Available reports whether the provider is ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// NormalizeVector scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}
