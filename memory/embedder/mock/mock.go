// Package mock provides a deterministic embedder for tests and offline runs.
package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// ErrForcedFailure is the backend error reported while failure mode is on.
var ErrForcedFailure = errors.New("mock embedder: forced failure")

// Embedder generates deterministic unit vectors from a hash of the text.
// Identical texts always map to identical vectors.
type Embedder struct {
	dimensions int
	logger     *log.Logger

	mu      sync.RWMutex
	failing bool

	calls atomic.Int64
}

var _ memory.Embedder = (*Embedder)(nil)

// New creates a mock embedder. A non-positive dimension selects
// DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{
		dimensions: dimensions,
		logger:     log.Default().WithPrefix("embedder.mock"),
	}
}

// SetFailing switches failure mode. While failing, every batch falls back to
// zero vectors.
func (e *Embedder) SetFailing(failing bool) {
	e.mu.Lock()
	e.failing = failing
	e.mu.Unlock()
}

// Calls returns the number of backend invocations so far.
func (e *Embedder) Calls() int64 {
	return e.calls.Load()
}

// Embed returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := e.backend(texts)
	if err != nil {
		e.logger.Error("embedding failed, using zero vectors", "err", err, "texts", len(texts))
		memory.RecordEmbeddingFallback(ctx, "mock", "backend_error", len(texts))
		return memory.ZeroVectors(len(texts), e.dimensions), nil
	}
	return vecs, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions(context.Context) int {
	return e.dimensions
}

func (e *Embedder) backend(texts []string) ([][]float32, error) {
	e.calls.Add(1)

	e.mu.RLock()
	failing := e.failing
	e.mu.RUnlock()
	if failing {
		return nil, ErrForcedFailure
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, e.dimensions)
	}
	return out, nil
}

// Vector computes the deterministic unit vector for text.
func Vector(text string, dimensions int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dimensions)
	for i := range vec {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return memory.Normalize(vec)
}
