package integration

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/local"
	"github.com/becomeliminal/nim-memory/memory/embedder/openai"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
	"github.com/becomeliminal/nim-memory/memory/store/pgvector"
)

// Factory builds an uninitialised Manager from configuration.
type Factory func(ctx context.Context, cfg memory.Config, logger *log.Logger) (*memory.Manager, error)

// NewManager selects the embedding provider and store named by cfg and pairs
// them. Unknown selectors and missing credentials are ErrConfiguration. The
// returned manager still needs Initialize.
func NewManager(ctx context.Context, cfg memory.Config, logger *log.Logger) (*memory.Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	embedder, err := NewEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(cfg, embedder, logger)
	if err != nil {
		if c, ok := embedder.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
		return nil, err
	}

	return memory.NewManager(store, embedder, memory.WithManagerLogger(logger.WithPrefix("memory"))), nil
}

// NewEmbedder builds the configured embedding provider, wrapped in a cache
// when embedding_cache_size is positive.
func NewEmbedder(cfg memory.Config, logger *log.Logger) (memory.Embedder, error) {
	backend, err := cfg.EmbeddingBackend()
	if err != nil {
		return nil, err
	}

	var e memory.Embedder
	switch backend {
	case memory.EmbeddingOpenAI:
		e, err = openai.New(openai.Config{
			APIKey:    cfg.OpenAI.APIKey,
			Model:     cfg.OpenAI.Model,
			BaseURL:   cfg.OpenAI.BaseURL,
			BatchSize: cfg.OpenAI.BatchSize,
		}, openai.WithLogger(logger.WithPrefix("embedder.openai")))
	case memory.EmbeddingLocal:
		e, err = local.Open(cfg.Local, local.WithLogger(logger.WithPrefix("embedder.local")))
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", memory.ErrConfiguration, backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EmbeddingCacheSize > 0 {
		cached, err := cache.New(e, cfg.EmbeddingCacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}

// NewStore builds the configured store on top of embedder.
func NewStore(cfg memory.Config, embedder memory.Embedder, logger *log.Logger) (memory.Store, error) {
	backend, err := cfg.StoreBackend()
	if err != nil {
		return nil, err
	}

	switch backend {
	case memory.ProviderChroma:
		return chromem.New(chromem.Config{
			Path:           cfg.Chroma.Path,
			CollectionName: cfg.Chroma.CollectionName,
			Persist:        cfg.Persist,
			Compress:       cfg.Chroma.Compress,
		}, embedder, chromem.WithLogger(logger.WithPrefix("store.chromem"))), nil
	case memory.ProviderPGVector:
		return pgvector.New(pgvector.Config{
			ConnectionString: cfg.PGVector.ConnectionString,
			SchemaName:       cfg.PGVector.SchemaName,
			TableName:        cfg.PGVector.TableName,
			MaxConns:         cfg.PGVector.MaxConns,
		}, embedder, pgvector.WithLogger(logger.WithPrefix("store.pgvector"))), nil
	}
	return nil, fmt.Errorf("%w: unsupported memory provider %q", memory.ErrConfiguration, backend)
}
