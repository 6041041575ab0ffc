package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/embedding"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/llm"
	"github.com/rlunar/aviation-cache-core/pkg/vectorindex"
)

func newCache(t *testing.T) (*SemanticCache, *llm.StubGenerator) {
	t.Helper()
	kv, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	idx, err := vectorindex.New(kv, vectorindex.Config{
		Name:        "prompt_embeddings",
		Prefix:      "embedding:prompt:",
		VectorField: "embedding",
		Dimension:   64,
	}, nil, nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Semantic.EmbeddingDim = 64

	gen := llm.NewStubGenerator()
	sc := New(kv, idx, embedding.NewStubProvider(64), gen, cfg, nil, nil)
	return sc, gen
}

// TestGetOrGenerateSQL_SemanticCacheReuse: a paraphrase sharing most of
// its vocabulary with an already-answered prompt hits the semantic cache
// with the same SQL, and the LLM is never invoked a second time.
func TestGetOrGenerateSQL_SemanticCacheReuse(t *testing.T) {
	sc, gen := newCache(t)
	ctx := context.Background()

	original := "flights from JFK to LAX today"
	paraphrase := "please show flights today from JFK to LAX"

	first, err := sc.GetOrGenerateSQL(ctx, original)
	require.NoError(t, err)
	require.Equal(t, CacheKindNone, first.CacheKind)
	require.False(t, first.CacheHit)
	require.EqualValues(t, 1, gen.Calls())

	second, err := sc.GetOrGenerateSQL(ctx, paraphrase)
	require.NoError(t, err)
	require.Equal(t, CacheKindSemantic, second.CacheKind)
	require.True(t, second.CacheHit)
	require.Equal(t, first.SQL, second.SQL)
	require.GreaterOrEqual(t, second.Similarity, 0.70)
	require.Equal(t, original, second.SimilarPrompt)
	require.EqualValues(t, 1, gen.Calls(), "paraphrase must be served from the semantic cache, not regenerated")

	// A repeat of the original prompt takes the O(1) exact path, since the
	// first (generating) call wrote a semantic:prompt:<h> pointer for it; the
	// semantic hit above wrote one for the paraphrase.
	third, err := sc.GetOrGenerateSQL(ctx, original)
	require.NoError(t, err)
	require.Equal(t, CacheKindExact, third.CacheKind)
	require.Equal(t, first.SQL, third.SQL)
	require.EqualValues(t, 1, gen.Calls())
}

// TestGetOrGenerateSQL_UnrelatedPromptMisses: a prompt sharing no
// vocabulary with a previously cached one falls below the similarity
// threshold, falls through to generation, and is stored under its own
// distinct query key.
func TestGetOrGenerateSQL_UnrelatedPromptMisses(t *testing.T) {
	sc, gen := newCache(t)
	ctx := context.Background()

	cached := "flights from JFK to LAX today"
	unrelated := "what is the weather forecast for Tokyo next week"

	first, err := sc.GetOrGenerateSQL(ctx, cached)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.Calls())

	second, err := sc.GetOrGenerateSQL(ctx, unrelated)
	require.NoError(t, err)
	require.Equal(t, CacheKindNone, second.CacheKind)
	require.False(t, second.CacheHit)
	require.NotEqual(t, first.SQL, second.SQL)
	require.EqualValues(t, 2, gen.Calls(), "an unrelated prompt must still invoke the LLM")
}

// TestGetOrGenerateSQL_ExactRepeatIsO1: an identical prompt served twice in
// a row always takes the exact path and never re-invokes the LLM.
func TestGetOrGenerateSQL_ExactRepeatIsO1(t *testing.T) {
	sc, gen := newCache(t)
	ctx := context.Background()

	prompt := "flights from JFK to LAX today"

	first, err := sc.GetOrGenerateSQL(ctx, prompt)
	require.NoError(t, err)
	require.Equal(t, CacheKindNone, first.CacheKind)

	second, err := sc.GetOrGenerateSQL(ctx, prompt)
	require.NoError(t, err)
	require.Equal(t, CacheKindExact, second.CacheKind)
	require.Equal(t, first.SQL, second.SQL)
	require.EqualValues(t, 1, gen.Calls())
}
