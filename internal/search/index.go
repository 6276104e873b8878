// Package search ranks the functions of a named graph against a free-text
// query, using what their docstrings and summaries say about them.
package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

// DefaultRRFConstant is the k of reciprocal rank fusion.
const DefaultRRFConstant = 60

// Document is one searchable function and its docstring, if any.
type Document struct {
	Function  *graph.Function
	Docstring *graph.Docstring
}

// Match is a ranked search result.
type Match struct {
	Function *graph.Function
	Snippet  string
	Score    float64
}

type entry struct {
	doc    Document
	terms  map[string]bool
	vector []float32
}

// Index is an in-memory vector space over a fixed set of functions. It is
// safe for concurrent reads once built.
type Index struct {
	embedder *Embedder
	entries  []entry
}

// NewIndex fits an index over docs.
func NewIndex(docs []Document) *Index {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = FunctionText(d.Function, d.Docstring)
	}

	embedder := NewEmbedder()
	embedder.Fit(texts)

	entries := make([]entry, len(docs))
	for i, d := range docs {
		terms := make(map[string]bool)
		for _, term := range Tokenize(d.Function.Name) {
			terms[term] = true
		}
		entries[i] = entry{doc: d, terms: terms, vector: embedder.Embed(texts[i])}
	}
	return &Index{embedder: embedder, entries: entries}
}

// Load reads every non-builtin function of a named graph together with the
// docstring documenting it, and indexes them.
func Load(ctx context.Context, backend storage.Backend, graphName string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fns, err := backend.GetAllNodesByLabel(ctx, graphName, graph.NodeFunction)
	if err != nil {
		return nil, fmt.Errorf("loading functions: %w", err)
	}

	docs := make([]Document, 0, len(fns))
	for _, gn := range fns {
		n, err := graph.DecodeNode(gn)
		if err != nil {
			return nil, err
		}
		fn := n.(*graph.Function)
		if fn.Builtin {
			continue
		}

		d := Document{Function: fn}
		documented, err := backend.Neighbours(ctx, graphName, gn.ID, graph.RelDocuments, storage.Incoming)
		if err != nil {
			return nil, fmt.Errorf("loading docstring of %s: %w", fn.CanonicalName, err)
		}
		if len(documented) > 0 {
			if n, err := graph.DecodeNode(documented[0].Node); err == nil {
				d.Docstring, _ = n.(*graph.Docstring)
			}
		}
		docs = append(docs, d)
	}

	logger.Debug("Search index loaded", zap.String("graph", graphName), zap.Int("functions", len(docs)))
	return NewIndex(docs), nil
}

// Len returns the number of indexed functions.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// FindSimilarFunctions ranks functions by cosine similarity between the
// query and their indexed text. Functions sharing no term with the query
// are left out.
func (ix *Index) FindSimilarFunctions(query string, limit int) []Match {
	q := ix.embedder.Embed(query)

	var matches []Match
	for _, e := range ix.entries {
		score := CosineSimilarity(q, e.vector)
		if score <= 0 {
			continue
		}
		matches = append(matches, ix.match(e, score))
	}
	sortMatches(matches)
	return truncate(matches, limit)
}

// Search fuses the similarity ranking with a ranking by how many query
// terms occur in the function name, using reciprocal rank fusion.
func (ix *Index) Search(query string, limit int) []Match {
	similar := ix.FindSimilarFunctions(query, 0)

	terms := Tokenize(query)
	var named []Match
	for _, e := range ix.entries {
		hits := 0
		for _, term := range terms {
			if e.terms[term] {
				hits++
			}
		}
		if hits > 0 {
			named = append(named, ix.match(e, float64(hits)))
		}
	}
	sortMatches(named)

	scores := make(map[*graph.Function]float64)
	byFn := make(map[*graph.Function]Match)
	for _, ranking := range [][]Match{similar, named} {
		for rank, m := range ranking {
			scores[m.Function] += 1.0 / float64(DefaultRRFConstant+rank)
			if _, ok := byFn[m.Function]; !ok {
				byFn[m.Function] = m
			}
		}
	}

	fused := make([]Match, 0, len(scores))
	for fn, score := range scores {
		m := byFn[fn]
		m.Score = score
		fused = append(fused, m)
	}
	sortMatches(fused)
	return truncate(fused, limit)
}

func (ix *Index) match(e entry, score float64) Match {
	return Match{Function: e.doc.Function, Snippet: Snippet(e.doc.Docstring), Score: score}
}

// sortMatches orders by score, breaking ties by canonical name so results
// are stable.
func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].Function.CanonicalName < ms[j].Function.CanonicalName
	})
}

// truncate applies limit; zero or less means no limit.
func truncate(ms []Match, limit int) []Match {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}
