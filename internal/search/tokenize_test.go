package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"Empty", "", nil},
		{"SnakeCase", "parse_http_request", []string{"parse", "http", "request"}},
		{"CamelCase", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"Dotted", "pkg.io.load_file", []string{"pkg", "io", "load", "file"}},
		{"Sentence", "Returns the sum of a and b.", []string{"sum"}},
		{"KeepsDuplicates", "load data, load more", []string{"load", "data", "load", "more"}},
		{"Digits", "sha256 digest", []string{"sha256", "digest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}
