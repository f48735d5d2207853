package embed

import "context"

// NoneEmbedder is the provider used when embeddings are disabled. Every
// result is absent; the linker falls back to lexical and tag signals.
type NoneEmbedder struct {
	dims int
}

var _ Embedder = (*NoneEmbedder)(nil)

// NewNoneEmbedder creates a disabled embedder. dims is carried so the
// store's dimension check still has a declared value.
func NewNoneEmbedder(dims int) *NoneEmbedder {
	return &NoneEmbedder{dims: dims}
}

func (e *NoneEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (e *NoneEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (e *NoneEmbedder) Dimensions() int { return e.dims }

func (e *NoneEmbedder) ModelName() string { return "none" }

func (e *NoneEmbedder) Available(ctx context.Context) bool { return true }

func (e *NoneEmbedder) Close() error { return nil }
