// Package summarize produces natural-language summaries of functions for
// their Docstring nodes.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/graph"
)

// DefaultTimeout bounds a single summarization request.
const DefaultTimeout = 90 * time.Second

var docstringPattern = regexp.MustCompile(`(?s)""".*"""\n`)

// CleanSourceCode removes triple-quoted docstrings from source so a model
// summarizes what the code does rather than restating its documentation.
func CleanSourceCode(source string) string {
	return docstringPattern.ReplaceAllString(source, "")
}

// HTTPSummarizer asks a summarization service for a one-line summary of a
// function's source. The service accepts {"source_code": ...} and answers
// {"summary": ...}.
type HTTPSummarizer struct {
	client   *http.Client
	endpoint string
	logger   *zap.Logger
}

type summarizeRequest struct {
	SourceCode string `json:"source_code"`
	Name       string `json:"name,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// NewHTTPSummarizer creates a summarizer posting to endpoint. A zero
// timeout uses DefaultTimeout.
func NewHTTPSummarizer(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSummarizer{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		logger:   logger.Named("summarizer"),
	}
}

// Summarize returns the summary of fn. A function without source code
// yields an empty summary without a request.
func (s *HTTPSummarizer) Summarize(ctx context.Context, fn *graph.Function) (string, error) {
	source := CleanSourceCode(fn.SourceCode)
	if strings.TrimSpace(source) == "" {
		return "", nil
	}

	body, err := json.Marshal(summarizeRequest{SourceCode: source, Name: fn.CanonicalName})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug("Summarizing", zap.String("function", fn.CanonicalName))
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", fn.CanonicalName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarization request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed summarizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding summary: %w", err)
	}
	return strings.TrimSpace(parsed.Summary), nil
}
