// Package openai provides an Embedder backed by the OpenAI embeddings API or
// any compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/becomeliminal/nim-memory/memory"
)

const (
	DefaultModel     = "text-embedding-ada-002"
	DefaultBatchSize = 100

	// FallbackDimensions is used when an unknown model cannot be measured.
	FallbackDimensions = 1536

	maxAttempts = 3
)

// knownDimensions maps model names to their output size.
var knownDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// Config configures the embedder.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	BatchSize int

	// InitialBackoff is the delay before the first rate-limit retry.
	// Defaults to one second.
	InitialBackoff time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Embedder calls the embeddings endpoint in batches. Rate-limit responses are
// retried with exponential backoff; every other failure falls back to zero
// vectors.
type Embedder struct {
	client         openai.Client
	model          string
	batchSize      int
	initialBackoff time.Duration
	logger         *log.Logger

	dimOnce sync.Once
	dims    int
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

// New creates an embedder. The API key comes from cfg or OPENAI_API_KEY; a
// missing key is an ErrConfiguration.
func New(cfg Config, opts ...Option) (*Embedder, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set (config openai.api_key or OPENAI_API_KEY)", memory.ErrConfiguration)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled here so only rate limits are retried.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	e := &Embedder{
		client:         openai.NewClient(clientOpts...),
		model:          cfg.Model,
		batchSize:      cfg.BatchSize,
		initialBackoff: cfg.InitialBackoff,
		logger:         log.Default().WithPrefix("embedder.openai"),
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.initialBackoff <= 0 {
		e.initialBackoff = time.Second
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the configured model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns one vector per text, batching requests. On an unrecoverable
// failure the whole call falls back to zero vectors.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Error("embedding request failed, using zero vectors", "err", err, "texts", len(texts), "model", e.model)
			memory.RecordEmbeddingFallback(ctx, "openai", reason(err), len(texts))
			return memory.ZeroVectors(len(texts), e.Dimensions(ctx)), nil
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	op := func() ([][]float32, error) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			if isRateLimited(err) {
				e.logger.Warn("rate limited, backing off", "model", e.model)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if len(resp.Data) != len(batch) {
			return nil, backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
		}
		vecs := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(vecs) {
				return nil, backoff.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
			}
			vecs[d.Index] = memory.Float64To32(d.Embedding)
		}
		return vecs, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxAttempts),
	)
}

// Dimensions returns the model's embedding size. Known models use a static
// table; unknown models are measured once with a probe request.
func (e *Embedder) Dimensions(ctx context.Context) int {
	e.dimOnce.Do(func() {
		if d, ok := knownDimensions[e.model]; ok {
			e.dims = d
			return
		}
		vecs, err := e.embedBatch(ctx, []string{"Test"})
		if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
			e.logger.Warn("could not determine embedding dimension, using fallback",
				"model", e.model, "dimensions", FallbackDimensions, "err", err)
			e.dims = FallbackDimensions
			return
		}
		e.dims = len(vecs[0])
	})
	return e.dims
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func reason(err error) string {
	if isRateLimited(err) {
		return "rate_limited"
	}
	return "backend_error"
}
