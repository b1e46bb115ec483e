package local_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/powermem-recall/pkg/embedder/local"
)

func TestClient_EmbedIsDeterministicAndNormalised(t *testing.T) {
	client := local.NewClient(&local.Config{Dimensions: 64})
	ctx := context.Background()

	a, err := client.Embed(ctx, "The Eiffel Tower is in Paris")
	require.NoError(t, err)
	b, err := client.Embed(ctx, "the eiffel tower, is in PARIS!")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestClient_EmptyText(t *testing.T) {
	client := local.NewClient(nil)

	vec, err := client.Embed(context.Background(), " ... ")
	require.NoError(t, err)
	assert.Len(t, vec, local.DefaultDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"what", "is", "the", "capital", "of", "france"}, local.Tokenize("What is the capital of France?"))
	assert.Empty(t, local.Tokenize("?!"))
}
