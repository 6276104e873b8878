package search

import (
	"regexp"
	"strings"
)

var (
	camelBoundary  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// stopWords are dropped from every document and query.
var stopWords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true, "of": true, "to": true,
	"in": true, "is": true, "it": true, "for": true, "on": true, "by": true,
	"with": true, "as": true, "be": true, "this": true, "that": true,
	"self": true, "def": true, "return": true, "returns": true,
}

// Tokenize splits text into lower-case terms. Identifiers are broken up on
// camelCase, snake_case and dot boundaries so "parseHTTPRequest" and
// "parse_http_request" produce the same terms. Terms shorter than two
// characters and stop words are dropped. Duplicates are kept.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = acronymBoundary.ReplaceAllString(text, "$1 $2")
	text = camelBoundary.ReplaceAllString(text, "$1 $2")

	parts := nonAlnum.Split(text, -1)
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		term := strings.ToLower(part)
		if len(term) < 2 || stopWords[term] {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}
