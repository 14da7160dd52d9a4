// Package simtest provides deterministic in-memory providers for tests.
package simtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// Dimensions of the vectors produced by Embedder.
const Dimensions = 64

// ErrUnavailable is returned while a fake is set to fail.
var ErrUnavailable = errors.New("simtest: provider unavailable")

// Embedder hashes each word into a bucket, so texts sharing words score
// high and unrelated texts score near zero.
type Embedder struct {
	mu       sync.Mutex
	fail     bool
	failNext int
	calls    atomic.Int64
}

// Model implements similarity.Embedder.
func (e *Embedder) Model() string { return "simtest-bow" }

// SetFail makes subsequent calls fail until reset.
func (e *Embedder) SetFail(fail bool) {
	e.mu.Lock()
	e.fail = fail
	e.mu.Unlock()
}

// FailNext makes the next n calls fail.
func (e *Embedder) FailNext(n int) {
	e.mu.Lock()
	e.failNext = n
	e.mu.Unlock()
}

// Calls returns the number of Embed calls so far.
func (e *Embedder) Calls() int64 { return e.calls.Load() }

// Embed implements similarity.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	fail := e.fail || e.failNext > 0
	if e.failNext > 0 {
		e.failNext--
	}
	e.mu.Unlock()
	if fail {
		return nil, ErrUnavailable
	}
	return Vector(text), nil
}

// Vector is the embedding Embed returns for text.
func Vector(text string) []float32 {
	v := make([]float32, Dimensions)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if stopword(w) {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dimensions]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Words from SummaryText labels carry no meaning.
func stopword(w string) bool {
	switch w {
	case "goal", "category", "description", "motivation", "success", "criteria", "a", "an", "the", "to", "and", "of":
		return true
	}
	return false
}

// Summarizer concatenates, or fails on demand.
type Summarizer struct {
	Fail bool
}

// Summarize implements similarity.Summarizer.
func (s *Summarizer) Summarize(_ context.Context, primary, duplicate string) (string, error) {
	if s.Fail {
		return "", ErrUnavailable
	}
	return primary + "\n" + duplicate, nil
}
