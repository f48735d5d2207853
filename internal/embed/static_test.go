package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(0)
	defer e.Close()

	a, err := e.Embed(context.Background(), "salmon migration in rivers")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "salmon migration in rivers")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
}

func TestStaticEmbedder_UnitNorm(t *testing.T) {
	e := NewStaticEmbedder(128)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "some text to embed")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_EmptyTextIsAbsent(t *testing.T) {
	e := NewStaticEmbedder(0)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "   \n  ")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder(0)
	defer e.Close()

	a, err := e.Embed(context.Background(), "salmon rivers")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "tax accounting software")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder(0)
	defer e.Close()

	single, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	batch, err := e.EmbedBatch(context.Background(), []string{"hello", ""})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[0])
	assert.Nil(t, batch[1])
}

func TestStaticEmbedder_ClosedRejects(t *testing.T) {
	e := NewStaticEmbedder(0)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestNoneEmbedder_AlwaysAbsent(t *testing.T) {
	e := NewNoneEmbedder(768)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, vec)

	batch, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Nil(t, batch[0])
	assert.Nil(t, batch[1])
	assert.Equal(t, 768, e.Dimensions())
}
