package search

import (
	"math"
	"sync"
)

// Embedder turns documents into L2-normalised TF-IDF vectors over the
// vocabulary it was fitted on.
type Embedder struct {
	mu       sync.RWMutex
	idf      map[string]float64 // term -> IDF score
	vocab    map[string]int     // term -> index in the vector
	docCount int
}

// NewEmbedder creates an empty embedder. Call Fit before Embed.
func NewEmbedder() *Embedder {
	return &Embedder{
		idf:   make(map[string]float64),
		vocab: make(map[string]int),
	}
}

// Fit builds the vocabulary and the IDF table from docs, replacing any
// earlier fit.
func (e *Embedder) Fit(docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vocab = make(map[string]int)
	e.idf = make(map[string]float64)
	e.docCount = len(docs)

	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range Tokenize(doc) {
			if _, ok := e.vocab[term]; !ok {
				e.vocab[term] = len(e.vocab)
			}
			if !seen[term] {
				docFreq[term]++
				seen[term] = true
			}
		}
	}

	// Smoothed IDF: log((1+N)/(1+df)) + 1 keeps terms present in every
	// document above zero.
	n := float64(e.docCount)
	for term, df := range docFreq {
		e.idf[term] = math.Log((1+n)/(1+float64(df))) + 1
	}
}

// Dimension is the length of the vectors Embed returns.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab)
}

// Embed returns the TF-IDF vector for doc. Terms outside the fitted
// vocabulary are ignored, so a query made only of unknown terms embeds to
// the zero vector.
func (e *Embedder) Embed(doc string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vec := make([]float32, len(e.vocab))

	tf := make(map[string]int)
	maxTF := 0
	for _, term := range Tokenize(doc) {
		tf[term]++
		if tf[term] > maxTF {
			maxTF = tf[term]
		}
	}

	for term, count := range tf {
		idx, ok := e.vocab[term]
		if !ok {
			continue
		}
		vec[idx] = float32(float64(count) / float64(maxTF) * e.idf[term])
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Vectors of different length, or a zero vector, score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
