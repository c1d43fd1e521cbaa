// Package local provides an Embedder that runs a local embedding model on a
// bounded worker pool.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/becomeliminal/nim-memory/memory"
)

// FallbackDimensions is used when the model cannot report its output size.
// It matches all-MiniLM-L6-v2.
const FallbackDimensions = 384

// DefaultWorkers is the number of concurrent model invocations.
const DefaultWorkers = 2

// Model is a loaded embedding model. EmbedBatch is CPU-bound and may block.
type Model interface {
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() (int, error)
	Close() error
}

// Embedder runs a Model off the caller's goroutine with at most Workers
// invocations in flight. Model failures fall back to zero vectors.
type Embedder struct {
	model  Model
	sem    *semaphore.Weighted
	logger *log.Logger

	dimOnce sync.Once
	dims    int

	closeOnce sync.Once
	closeErr  error
}

var _ memory.Embedder = (*Embedder)(nil)

// Option configures an Embedder.
type Option func(*Embedder)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Embedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// New wraps model. A non-positive workers value selects DefaultWorkers.
func New(model Model, workers int, opts ...Option) *Embedder {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	e := &Embedder{
		model:  model,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: log.Default().WithPrefix("embedder.local"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open loads the ONNX model described by cfg and wraps it.
func Open(cfg memory.LocalConfig, opts ...Option) (*Embedder, error) {
	model, err := NewONNXModel(ONNXConfig{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		LibraryPath:   cfg.LibraryPath,
		Dimensions:    cfg.Dimensions,
	})
	if err != nil {
		return nil, err
	}
	return New(model, cfg.Workers, opts...), nil
}

type result struct {
	vecs [][]float32
	err  error
}

// Embed returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := e.run(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("model returned %d embeddings for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Error("local embedding failed, using zero vectors", "err", err, "texts", len(texts))
		memory.RecordEmbeddingFallback(ctx, "local", "backend_error", len(texts))
		return memory.ZeroVectors(len(texts), e.Dimensions(ctx)), nil
	}
	return vecs, nil
}

// run executes the model on a worker slot. The caller stops waiting when ctx
// is done; the slot is released once the model call returns.
func (e *Embedder) run(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan result, 1)
	go func() {
		defer e.sem.Release(1)
		vecs, err := e.model.EmbedBatch(texts)
		done <- result{vecs: vecs, err: err}
	}()

	select {
	case r := <-done:
		return r.vecs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dimensions returns the model's native output size, or FallbackDimensions
// when the model cannot report it.
func (e *Embedder) Dimensions(context.Context) int {
	e.dimOnce.Do(func() {
		d, err := e.model.Dimensions()
		if err != nil || d <= 0 {
			e.logger.Warn("could not determine model dimension, using fallback",
				"dimensions", FallbackDimensions, "err", err)
			d = FallbackDimensions
		}
		e.dims = d
	})
	return e.dims
}

// Close releases the model.
func (e *Embedder) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.model.Close()
	})
	return e.closeErr
}
