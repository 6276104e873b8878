package search

import (
	"strings"

	"github.com/Benny93/repograph-go/internal/graph"
)

// snippetLength caps the summary text returned with a match.
const snippetLength = 200

// FunctionText builds the document a function is indexed under: its names
// followed by whatever its docstring says about it. doc may be nil.
func FunctionText(fn *graph.Function, doc *graph.Docstring) string {
	if fn == nil {
		return ""
	}

	parts := []string{fn.Name}
	if fn.CanonicalName != "" && fn.CanonicalName != fn.Name {
		parts = append(parts, fn.CanonicalName)
	}
	if doc != nil {
		for _, s := range []string{doc.Summarization, doc.ShortDescription, doc.LongDescription} {
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, ". ")
}

// Snippet returns the text shown next to a match: the summarization when
// present, else the short description.
func Snippet(doc *graph.Docstring) string {
	if doc == nil {
		return ""
	}
	s := doc.Summarization
	if s == "" {
		s = doc.ShortDescription
	}
	if len(s) > snippetLength {
		s = s[:snippetLength] + "..."
	}
	return s
}
