package providers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockBackendVectorsAreUnitLength(t *testing.T) {
	b := NewMockBackend(64)
	vec, err := b.Embed(context.Background(), "transformer attention heads")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
}

func TestMockBackendDeterministic(t *testing.T) {
	b := NewMockBackend(32)
	a1, err := b.Embed(context.Background(), "same input")
	require.NoError(t, err)
	a2, err := b.Embed(context.Background(), "same input")
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	other, err := b.Embed(context.Background(), "different input")
	require.NoError(t, err)
	require.NotEqual(t, a1, other)
}

func TestMockBackendBatchSkipsEmptyTexts(t *testing.T) {
	b := NewMockBackend(16)
	out, err := b.EmbedBatch(context.Background(), []string{"covid", "   ", "vaccine"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.NotNil(t, out[0])
	require.Nil(t, out[1])
	require.NotNil(t, out[2])
}
