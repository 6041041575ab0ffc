package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
)

func newStore(t *testing.T) *kvstore.MemoryStore {
	t.Helper()
	s, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestCosineSimilarity_ZeroNormIsZero(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestBruteForce_FindsNearestByPrefix(t *testing.T) {
	kv := newStore(t)
	ctx := context.Background()

	seed := func(key string, vec []float32) {
		require.NoError(t, kv.HashSet(ctx, key, map[string][]byte{
			"embedding": kvstore.EncodeFloat32LE(vec),
		}))
	}
	seed("embedding:prompt:a", []float32{1, 0})
	seed("embedding:prompt:b", []float32{0, 1})
	seed("embedding:prompt:c", []float32{0.9, 0.1})

	idx, err := New(kv, Config{Name: "prompt_embeddings", Prefix: "embedding:prompt:", VectorField: "embedding", Dimension: 2}, nil, nil)
	require.NoError(t, err)

	results, err := idx.BruteForce(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "embedding:prompt:a", results[0].Key)
	require.Equal(t, "embedding:prompt:c", results[1].Key)
}

func TestKNN_FallsBackToBruteForceOnUnsupportedBackend(t *testing.T) {
	kv := newStore(t)
	ctx := context.Background()

	require.NoError(t, kv.HashSet(ctx, "embedding:prompt:a", map[string][]byte{
		"embedding": kvstore.EncodeFloat32LE([]float32{1, 0}),
	}))

	idx, err := New(kv, Config{Name: "prompt_embeddings", Prefix: "embedding:prompt:", VectorField: "embedding", Dimension: 2}, nil, nil)
	require.NoError(t, err)

	results, err := idx.KNN(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "embedding:prompt:a", results[0].Key)
}

func TestBruteForce_CachesRepeatQueries(t *testing.T) {
	kv := newStore(t)
	ctx := context.Background()
	require.NoError(t, kv.HashSet(ctx, "embedding:prompt:a", map[string][]byte{
		"embedding": kvstore.EncodeFloat32LE([]float32{1, 0}),
	}))

	idx, err := New(kv, Config{Name: "prompt_embeddings", Prefix: "embedding:prompt:", VectorField: "embedding", Dimension: 2, BruteForceCacheSize: 8}, nil, nil)
	require.NoError(t, err)

	first, err := idx.BruteForce(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)

	// Seed a second, equally close candidate without invalidating the cache: the
	// cached result set should still be returned unchanged.
	require.NoError(t, kv.HashSet(ctx, "embedding:prompt:b", map[string][]byte{
		"embedding": kvstore.EncodeFloat32LE([]float32{1, 0}),
	}))
	second, err := idx.BruteForce(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Equal(t, first, second)

	idx.Invalidate()
	third, err := idx.BruteForce(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, third, 2)
}
