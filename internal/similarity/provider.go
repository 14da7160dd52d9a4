// Package similarity turns goal text into vectors and finds near-duplicate
// goals by cosine similarity over stored embeddings.
package similarity

import (
	"context"
	stderrors "errors"
	"strings"
)

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model names the embedding model, stored next to each vector.
	Model() string
}

// Summarizer consolidates the summary texts of two goals being merged.
type Summarizer interface {
	Summarize(ctx context.Context, primary, duplicate string) (string, error)
}

// ConcatSummarizer joins both texts. Used when no summarization model is configured.
type ConcatSummarizer struct{}

// Summarize returns primary followed by the parts of duplicate not already in it.
func (ConcatSummarizer) Summarize(_ context.Context, primary, duplicate string) (string, error) {
	primary = strings.TrimSpace(primary)
	var extra []string
	for _, line := range strings.Split(duplicate, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.Contains(primary, line) {
			extra = append(extra, line)
		}
	}
	if len(extra) == 0 {
		return primary, nil
	}
	return primary + "\nMerged: " + strings.Join(extra, "; "), nil
}

// permanentError marks a provider failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so resilient callers stop retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}
