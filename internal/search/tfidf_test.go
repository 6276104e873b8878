package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder(t *testing.T) {
	t.Parallel()

	docs := []string{
		"function process dead code",
		"function run pipeline",
		"class knowledge graph",
	}

	t.Run("Fit", func(t *testing.T) {
		e := NewEmbedder()
		e.Fit(docs)

		assert.Equal(t, 9, e.Dimension())
		assert.Equal(t, 3, e.docCount)
		assert.Greater(t, e.idf["function"], float64(0))
		assert.Greater(t, e.idf["dead"], e.idf["function"])
	})

	t.Run("RefitReplaces", func(t *testing.T) {
		e := NewEmbedder()
		e.Fit(docs)
		e.Fit([]string{"alpha beta"})

		assert.Equal(t, 2, e.Dimension())
		_, ok := e.vocab["function"]
		assert.False(t, ok)
	})

	t.Run("EmbedIsNormalised", func(t *testing.T) {
		e := NewEmbedder()
		e.Fit(docs)

		vec := e.Embed("function process dead code")
		require.Len(t, vec, e.Dimension())
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("UnknownTermsEmbedToZero", func(t *testing.T) {
		e := NewEmbedder()
		e.Fit(docs)

		for _, v := range e.Embed("completely unrelated words") {
			assert.Zero(t, v)
		}
	})

	t.Run("SimilarDocumentsScoreHigher", func(t *testing.T) {
		e := NewEmbedder()
		e.Fit(docs)

		q := e.Embed("dead code")
		assert.Greater(t,
			CosineSimilarity(q, e.Embed(docs[0])),
			CosineSimilarity(q, e.Embed(docs[1])))
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}
